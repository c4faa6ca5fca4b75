package domain

import "testing"

func TestParseFilename(t *testing.T) {
	info := ParseFilename("20240115_cdr_node1.csv")
	if info.Prefix != "20240115_cdr_node1" {
		t.Fatalf("unexpected prefix: %s", info.Prefix)
	}
	if info.FileDate != "20240115" {
		t.Fatalf("expected file date 20240115, got %s", info.FileDate)
	}
	if info.HostNode != UnknownFileField || info.RecordType != UnknownFileField {
		t.Fatalf("expected unknown metadata, got %+v", info)
	}

	other := ParseFilename("/data/cdr/daily.CSV")
	if other.Prefix != "daily" || other.FileDate != UnknownFileField {
		t.Fatalf("unexpected metadata: %+v", other)
	}

	invalidDate := ParseFilename("20241399_x.csv")
	if invalidDate.FileDate != UnknownFileField {
		t.Fatalf("invalid calendar date must stay unknown, got %s", invalidDate.FileDate)
	}
}

func TestIsCDRFile(t *testing.T) {
	for name, want := range map[string]bool{
		"a.csv":  true,
		"b.CSV":  true,
		"c.txt":  false,
		"csv":    false,
		"d.csv~": false,
	} {
		if got := IsCDRFile(name); got != want {
			t.Fatalf("IsCDRFile(%q) = %v, want %v", name, got, want)
		}
	}
}
