package trino

import (
	"context"
	"strings"
	"testing"
)

// TestDSNFromURL proves connection URLs are rewritten into the
// driver's coordinator endpoint form.
func TestDSNFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{
			url:  "trino://etl@coordinator:8080/hive/web",
			want: "http://etl@coordinator:8080?catalog=hive&schema=web",
		},
		{
			url:  "trino://coordinator/hive",
			want: "http://quarry@coordinator:8080?catalog=hive&schema=default",
		},
		{
			url:  "trino://etl@coordinator:443/hive/web?ssl=true",
			want: "https://etl@coordinator:443?catalog=hive&schema=web",
		},
		{
			url:  "trino://coordinator:8080",
			want: "http://quarry@coordinator:8080?catalog=memory&schema=default",
		},
	}
	for _, tt := range tests {
		got, err := dsnFromURL(tt.url)
		if err != nil {
			t.Errorf("dsnFromURL(%s): %v", tt.url, err)
			continue
		}
		if got != tt.want {
			t.Errorf("dsnFromURL(%s) = %s, want %s", tt.url, got, tt.want)
		}
	}
}

// TestDSNFromURL_Invalid proves hostless and foreign URLs are refused.
func TestDSNFromURL_Invalid(t *testing.T) {
	for _, bad := range []string{"trino://", "postgres://host/db"} {
		if _, err := dsnFromURL(bad); err == nil {
			t.Errorf("dsnFromURL(%s) should fail", bad)
		}
	}
}

// TestKillQuery_ValidatesID proves malformed query ids never reach the
// engine.
func TestKillQuery_ValidatesID(t *testing.T) {
	a := &Adapter{}
	err := a.KillQuery(context.Background(), "20190526_1234'; DROP TABLE x --")
	if err == nil || !strings.Contains(err.Error(), "invalid query id") {
		t.Errorf("err = %v", err)
	}
}
