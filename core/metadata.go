package core

import (
	"context"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	digestPattern = regexp.MustCompile(`"sha256"\s*:\s*"([0-9a-zA-Z]+)"`)
	lengthPattern = regexp.MustCompile(`"length"\s*:\s*([0-9]+)`)
)

// Metadata is what the server advertises about the payload.
type Metadata struct {
	// Digest is the lowercase hex SHA-256 of the payload.
	Digest string
	// Length is the payload size in bytes, or -1 if not advertised.
	Length int64
}

func (m *Metadata) HasLength() bool {
	return m.Length >= 0
}

type Resolver struct {
	client        client
	requireLength bool
}

// NewResolver builds a Resolver for use outside a Fetcher. The metadata
// exchange goes to config.OnDownload.
func NewResolver(config *Config) *Resolver {
	return newResolver(newClient(config.Target, config.DialTimeout, config.OnDownload), config.Mode == ModeStream)
}

func newResolver(client client, requireLength bool) *Resolver {
	return &Resolver{
		client:        client,
		requireLength: requireLength,
	}
}

// Resolve queries the metadata endpoint exactly once.
func (r *Resolver) Resolve(ctx context.Context) (*Metadata, error) {
	file, err := r.client.Exchange(ctx, &request{path: MetadataPath})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve metadata: %w", err)
	}
	r.client.Notify(file)
	return ParseMetadata(file.Raw, r.requireLength)
}

// ParseMetadata extracts the digest, and the length if present, from a raw
// metadata response. The whole response is searched, headers included.
func ParseMetadata(raw []byte, requireLength bool) (*Metadata, error) {
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: metadata response is not valid UTF-8", ErrDecode)
	}
	text := string(raw)

	m := digestPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("%w: no sha256 field", ErrMetadataFormat)
	}
	digest := strings.ToLower(m[1])
	if len(digest) != DigestSize {
		return nil, fmt.Errorf("%w: sha256 has %d characters, want %d", ErrMetadataFormat, len(digest), DigestSize)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return nil, fmt.Errorf("%w: sha256 is not hex: %q", ErrMetadataFormat, digest)
	}

	metadata := &Metadata{Digest: digest, Length: -1}
	if m := lengthPattern.FindStringSubmatch(text); m != nil {
		length, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid length: %w", ErrMetadataFormat, err)
		}
		metadata.Length = length
	} else if requireLength {
		return nil, fmt.Errorf("%w: no length field", ErrMetadataFormat)
	}
	return metadata, nil
}
