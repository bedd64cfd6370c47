package dnsserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/core/model"
)

// MockLogger 实现config.Logger接口，用于测试
type MockLogger struct{}

func (l *MockLogger) Debug(msg string, fields ...zapcore.Field) {}
func (l *MockLogger) Info(msg string, fields ...zapcore.Field)  {}
func (l *MockLogger) Warn(msg string, fields ...zapcore.Field)  {}
func (l *MockLogger) Error(msg string, fields ...zapcore.Field) {}
func (l *MockLogger) Fatal(msg string, fields ...zapcore.Field) {}
func (l *MockLogger) With(fields ...zapcore.Field) config.Logger {
	return l
}
func (l *MockLogger) Sync() error { return nil }

// staticLister 返回固定的实例列表
type staticLister struct {
	instances []*model.Instance
	err       error
}

func (s *staticLister) List(ctx context.Context) ([]*model.Instance, error) {
	return s.instances, s.err
}

func inst(id, name, baseURL string, status model.StatusValue) *model.Instance {
	return &model.Instance{
		ID:           id,
		Registration: model.Registration{Name: name, BaseURL: baseURL},
		StatusInfo:   model.StatusInfo{Status: status},
	}
}

func testLister() *staticLister {
	return &staticLister{instances: []*model.Instance{
		inst("1", "orders", "http://10.0.0.1:8080", model.StatusUp),
		inst("2", "orders", "http://10.0.0.2:8080", model.StatusUp),
		inst("3", "orders", "http://10.0.0.3:8080", model.StatusDown),
		inst("4", "billing", "http://billing.internal:9000", model.StatusUp),
		inst("5", "ledger", "http://10.0.0.9:7000", model.StatusOffline),
		inst("6", "orders", "http://[fd00::1]:8080", model.StatusUp),
	}}
}

func testConfig() config.DNSConfig {
	return config.DNSConfig{
		ListenAddress: "127.0.0.1",
		Port:          0,
		Protocol:      "udp",
		Domain:        "admin.local",
		TTL:           30,
	}
}

func TestServer_AnswerA(t *testing.T) {
	s := NewServer(testLister(), testConfig(), &MockLogger{})

	answers, found := s.answer(context.Background(), dns.Question{Name: "Orders.admin.local.", Qtype: dns.TypeA, Qclass: dns.ClassINET})
	require.True(t, found)
	require.Len(t, answers, 2)

	var ips []string
	for _, rr := range answers {
		a, ok := rr.(*dns.A)
		require.True(t, ok)
		assert.Equal(t, uint32(30), a.Hdr.Ttl)
		ips = append(ips, a.A.String())
	}
	assert.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, ips)
}

func TestServer_AnswerAAAA(t *testing.T) {
	s := NewServer(testLister(), testConfig(), &MockLogger{})

	answers, found := s.answer(context.Background(), dns.Question{Name: "orders.admin.local.", Qtype: dns.TypeAAAA})
	require.True(t, found)
	require.Len(t, answers, 1)
	assert.Equal(t, "fd00::1", answers[0].(*dns.AAAA).AAAA.String())
}

func TestServer_AnswerSRV(t *testing.T) {
	s := NewServer(testLister(), testConfig(), &MockLogger{})

	for _, name := range []string{"billing.admin.local.", "_billing._tcp.admin.local."} {
		answers, found := s.answer(context.Background(), dns.Question{Name: name, Qtype: dns.TypeSRV})
		require.True(t, found, name)
		require.Len(t, answers, 1, name)
		srv := answers[0].(*dns.SRV)
		assert.Equal(t, uint16(9000), srv.Port)
		assert.Equal(t, "billing.internal.", srv.Target)
	}
}

func TestServer_NameErrors(t *testing.T) {
	s := NewServer(testLister(), testConfig(), &MockLogger{})
	ctx := context.Background()

	cases := []string{
		"ledger.admin.local.",   // 没有UP实例
		"unknown.admin.local.",  // 未知应用
		"orders.other.domain.",  // 域名不匹配
		"a.orders.admin.local.", // 多级名称
		"admin.local.",
	}
	for _, name := range cases {
		_, found := s.answer(ctx, dns.Question{Name: name, Qtype: dns.TypeA})
		assert.False(t, found, name)
	}

	failing := NewServer(&staticLister{err: errors.New("boom")}, testConfig(), &MockLogger{})
	_, found := failing.answer(ctx, dns.Question{Name: "orders.admin.local.", Qtype: dns.TypeA})
	assert.False(t, found)
}

func TestServer_StartQueryShutdown(t *testing.T) {
	s := NewServer(testLister(), testConfig(), &MockLogger{})
	require.NoError(t, s.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, s.Shutdown(ctx))
	}()

	c := new(dns.Client)
	m := new(dns.Msg)
	m.SetQuestion("orders.admin.local.", dns.TypeA)

	var r *dns.Msg
	var err error
	require.Eventually(t, func() bool {
		r, _, err = c.Exchange(m, s.UDPAddr().String())
		return err == nil
	}, 2*time.Second, 50*time.Millisecond)

	assert.Equal(t, dns.RcodeSuccess, r.Rcode)
	assert.True(t, r.Authoritative)
	assert.Len(t, r.Answer, 2)

	m.SetQuestion("missing.admin.local.", dns.TypeA)
	r, _, err = c.Exchange(m, s.UDPAddr().String())
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeNameError, r.Rcode)
}

func TestServer_UnsupportedProtocol(t *testing.T) {
	cfg := testConfig()
	cfg.Protocol = "quic"
	s := NewServer(testLister(), cfg, &MockLogger{})
	assert.Error(t, s.Start())
}
