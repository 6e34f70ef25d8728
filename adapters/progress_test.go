package adapters

import (
	"bytes"
	"testing"

	"github.com/abema/segfetch/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress(t *testing.T) {
	w := bytes.NewBuffer(nil)
	p := NewProgress(w, "test")
	assert.NotEqual(t, int64(10), p.bar.GetMax64())

	p.OnReport()(core.Reports{{Name: "Resolver", Values: core.Values{"sha256": "00", "length": int64(10)}}})
	assert.Equal(t, int64(10), p.bar.GetMax64())

	onDownload := p.OnDownload()
	onDownload(&core.File{Meta: core.Meta{Path: core.MetadataPath, PayloadLength: 80}})
	onDownload(&core.File{Meta: core.Meta{Path: core.DataPath, PayloadLength: 4}})
	onDownload(&core.File{Meta: core.Meta{Path: core.DataPath, PayloadLength: 4}})
	assert.Equal(t, int64(8), p.bar.State().CurrentNum)

	require.NoError(t, p.Finish())
	assert.Contains(t, w.String(), "test")

	p.Reset()
	assert.Equal(t, int64(0), p.bar.State().CurrentNum)
}
