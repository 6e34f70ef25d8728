package core

type (
	OnDownloadHandler func(file *File)
	OnReportHandler   func(reports Reports)
)

func MergeOnDownloadHandlers(handlers ...OnDownloadHandler) OnDownloadHandler {
	return func(file *File) {
		for _, handler := range handlers {
			if handler != nil {
				handler(file)
			}
		}
	}
}

func MergeOnReportHandlers(handlers ...OnReportHandler) OnReportHandler {
	return func(reports Reports) {
		for _, handler := range handlers {
			if handler != nil {
				handler(reports)
			}
		}
	}
}

type Inspector interface {
	Inspect(result *Result) *Report
}

type InspectorFunc func(result *Result) *Report

func (f InspectorFunc) Inspect(result *Result) *Report {
	return f(result)
}
