package blob

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// uploadPrefix is the bucket prefix all granted uploads live under.
const uploadPrefix = "uploads"

// Key identifies one uploaded object. Owner and record ids are embedded
// in the object key at grant time, so resolving a notification back to a
// record is an exact parse rather than a filename heuristic.
type Key struct {
	OwnerID  string
	RecordID string
	FileName string
}

// String renders the object key: uploads/{ownerID}/{recordID}/{fileName}.
func (k Key) String() string {
	return path.Join(uploadPrefix, k.OwnerID, k.RecordID, k.FileName)
}

// ParseKey recovers a Key from a notification's object key. Notification
// payloads arrive URL-encoded and may carry a leading slash or extra
// prefix segments depending on the emitting store, so the parse anchors
// on the uploads segment rather than on position zero.
func ParseKey(raw string) (Key, error) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}
	segments := strings.Split(strings.Trim(decoded, "/"), "/")
	anchor := -1
	for i, seg := range segments {
		if seg == uploadPrefix {
			anchor = i
			break
		}
	}
	if anchor < 0 || len(segments) < anchor+4 {
		return Key{}, fmt.Errorf("object key %q does not match %s/{owner}/{record}/{file}", raw, uploadPrefix)
	}
	k := Key{
		OwnerID:  segments[anchor+1],
		RecordID: segments[anchor+2],
		FileName: strings.Join(segments[anchor+3:], "/"),
	}
	if k.OwnerID == "" || k.RecordID == "" || k.FileName == "" {
		return Key{}, fmt.Errorf("object key %q has empty segments", raw)
	}
	return k, nil
}
