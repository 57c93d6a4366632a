package chunkuploader

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-davtransfer/network/failure"
	"github.com/bitrise-io/go-davtransfer/network/redirect"
)

const (
	methodPropfind = "PROPFIND"

	propfindChunkLengths = `<?xml version="1.0" encoding="UTF-8"?>
<d:propfind xmlns:d="DAV:"><d:prop><d:getcontentlength/></d:prop></d:propfind>`
)

// stagedChunks summarizes the chunks the server already holds for an upload.
type stagedChunks struct {
	count  int
	lastID int64
	bytes  int64
}

type multistatus struct {
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href     string        `xml:"href"`
	Propstat []davPropstat `xml:"propstat"`
}

type davPropstat struct {
	Prop struct {
		ContentLength string `xml:"getcontentlength"`
	} `xml:"prop"`
}

// listStagedChunks lists the staging collection one level deep. Members with a
// non numeric name, like the collection itself, are ignored.
func (u *Uploader) listStagedChunks(ctx context.Context, target Target) (stagedChunks, error) {
	header := target.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Depth", "1")
	header.Set(headerContentType, "application/xml; charset=utf-8")

	body := []byte(propfindChunkLengths)
	result, err := u.sender.Send(ctx, redirect.Request{
		Method:        methodPropfind,
		URL:           target.CollectionURL,
		Header:        header,
		Body:          redirect.NewBytesBody(body),
		ContentLength: int64(len(body)),
	})
	if err != nil {
		return stagedChunks{}, fmt.Errorf("list staging collection: %w", err)
	}
	defer closeResult(result, u.logger)

	if err := result.Err(); err != nil {
		return stagedChunks{}, fmt.Errorf("list staging collection: %w", err)
	}
	if result.StatusCode != http.StatusMultiStatus {
		return stagedChunks{}, fmt.Errorf("list staging collection: %w", &failure.StatusError{Kind: failure.ErrUnexpectedStatus, StatusCode: result.StatusCode})
	}

	var listing multistatus
	if err := xml.NewDecoder(result.Body).Decode(&listing); err != nil {
		return stagedChunks{}, fmt.Errorf("decode staging collection listing: %w", err)
	}

	var staged stagedChunks
	for _, resp := range listing.Responses {
		id, ok := chunkIDOf(resp.Href)
		if !ok {
			continue
		}
		length, err := contentLengthOf(resp)
		if err != nil {
			return stagedChunks{}, fmt.Errorf("chunk %d: %w", id, err)
		}

		staged.count++
		staged.bytes += length
		if id > staged.lastID {
			staged.lastID = id
		}
	}
	return staged, nil
}

func chunkIDOf(href string) (int64, bool) {
	p := href
	if parsed, err := url.Parse(href); err == nil {
		p = parsed.Path
	}
	id, err := strconv.ParseInt(path.Base(strings.TrimSuffix(p, "/")), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

func contentLengthOf(resp davResponse) (int64, error) {
	for _, propstat := range resp.Propstat {
		if v := strings.TrimSpace(propstat.Prop.ContentLength); v != "" {
			length, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid content length %q: %w", v, err)
			}
			return length, nil
		}
	}
	return 0, fmt.Errorf("no content length reported")
}
