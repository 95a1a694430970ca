package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/regioncache"
)

func TestLoggerWritesFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := Wrap(base)

	boom := errors.New("boom")
	l.Error("apply remote change failed", regioncache.Fields{"region": "users", "err": boom})
	l.Debug("plain", nil)

	if len(hook.Entries) != 2 {
		t.Fatalf("entries: %d", len(hook.Entries))
	}
	e := hook.Entries[0]
	if e.Level != logrus.ErrorLevel || e.Message != "apply remote change failed" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.Data["region"] != "users" || e.Data["component"] != "regioncache" || e.Data[logrus.ErrorKey] != boom {
		t.Fatalf("unexpected data: %v", e.Data)
	}
}
