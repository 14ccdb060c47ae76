package s3_helper

import (
	"testing"
)

func TestKey(t *testing.T) {
	c := &Client{Bucket: "b", Prefix: "loads"}
	if got := c.Key("lineorder", "run_1", "lineorder.3.tbl"); got != "loads/lineorder/run_1/lineorder.3.tbl" {
		t.Fatal("bad key", got)
	}
	c.Prefix = ""
	if got := c.Key("lineorder", "run_1", "x.parquet"); got != "lineorder/run_1/x.parquet" {
		t.Fatal("bad key", got)
	}
}

func TestContentType(t *testing.T) {
	if ct := contentTypeOf("/tmp/a.parquet"); ct == nil || *ct != "application/vnd.apache.parquet" {
		t.Fatal("bad parquet content type")
	}
	if ct := contentTypeOf("/tmp/a.tbl"); ct == nil || *ct != "text/plain" {
		t.Fatal("bad tbl content type")
	}
	if contentTypeOf("/tmp/a.bin") != nil {
		t.Fatal("expected no content type")
	}
}
