package clickhouse

import (
	"net/url"
	"testing"
	"time"
)

func TestBuildDSN(t *testing.T) {
	cfg := defaultClientConfig()
	for _, opt := range []ClientOption{
		WithAddress("ch.local", 9440),
		WithDatabase("chargefit"),
		WithCredentials("fitter", "p@ss"),
		WithAsyncInsert(true, true),
		WithMaxExecutionTime(90 * time.Second),
	} {
		opt(cfg)
	}

	u, err := url.Parse(buildDSN(cfg))
	if err != nil {
		t.Fatalf("dsn does not parse: %v", err)
	}
	if u.Scheme != "clickhouse" || u.Host != "ch.local:9440" || u.Path != "/chargefit" {
		t.Errorf("dsn: %s", u)
	}
	if pw, _ := u.User.Password(); u.User.Username() != "fitter" || pw != "p@ss" {
		t.Errorf("credentials not preserved: %s", u.User)
	}
	q := u.Query()
	if q.Get("async_insert") != "1" || q.Get("wait_for_async_insert") != "1" {
		t.Errorf("async insert settings: %v", q)
	}
	if q.Get("max_execution_time") != "90" {
		t.Errorf("max_execution_time: %q", q.Get("max_execution_time"))
	}
	if q.Get("dial_timeout") != "5s" {
		t.Errorf("dial_timeout: %q", q.Get("dial_timeout"))
	}
}

func TestBuildDSNHTTP(t *testing.T) {
	cfg := defaultClientConfig()
	WithAddress("ch.local", 0)(cfg)
	WithHTTP(true)(cfg)
	u, _ := url.Parse(buildDSN(cfg))
	if u.Scheme != "http" || u.Port() != "9000" {
		t.Errorf("http dsn: %s", u)
	}
	if u.Query().Get("async_insert") != "" {
		t.Error("async insert should be off by default")
	}
}

func TestNewClientRequiresHost(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Error("expected error without host")
	}
}
