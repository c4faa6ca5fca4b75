package domain

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// StoredFile is a CDR file as seen by the file store.
type StoredFile struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// ScanReport summarizes one intake scan.
type ScanReport struct {
	Discovered  int      `json:"discovered"`
	Claimed     int      `json:"claimed"`
	Failed      int      `json:"failed"`
	DocumentIDs []string `json:"document_ids"`
}

// OrphanReport summarizes one sweep of the processing directory.
type OrphanReport struct {
	Adopted   int `json:"adopted"`
	Relocated int `json:"relocated"`
	Requeued  int `json:"requeued"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

var leadingFileDate = regexp.MustCompile(`^(\d{8})(?:[_\-.]|$)`)

// ParseFilename derives best-effort metadata from a CDR filename.
// Any .csv name is accepted; fields that cannot be derived are UnknownFileField.
func ParseFilename(name string) FileInfo {
	base := filepath.Base(name)
	prefix := strings.TrimSuffix(base, filepath.Ext(base))
	info := FileInfo{
		Prefix:     prefix,
		RecordType: UnknownFileField,
		HostNode:   UnknownFileField,
		CDRType:    UnknownFileField,
		Version:    UnknownFileField,
		FileDate:   UnknownFileField,
	}
	if m := leadingFileDate.FindStringSubmatch(prefix); m != nil {
		if _, err := time.Parse("20060102", m[1]); err == nil {
			info.FileDate = m[1]
		}
	}
	return info
}

// IsCDRFile reports whether name carries a .csv extension, case-insensitively.
func IsCDRFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}
