package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationKey(t *testing.T) {
	// 优先使用BaseURL
	r := Registration{Name: "a", BaseURL: "HTTP://Svc-A:8080/", HealthURL: "http://svc-a:8080/actuator/health"}
	assert.Equal(t, "http://svc-a:8080", r.Key())

	// 没有BaseURL时使用HealthURL
	r = Registration{Name: "a", HealthURL: "http://a/health"}
	assert.Equal(t, "http://a/health", r.Key())

	// 只有ManagementURL时由其推导HealthURL
	r = Registration{Name: "a", ManagementURL: "http://a/actuator/"}
	assert.Equal(t, "http://a/actuator/health", r.Normalize().HealthURL)
	assert.Equal(t, "http://a/actuator/health", r.Key())
}

func TestRegistrationHost(t *testing.T) {
	host, port := Registration{BaseURL: "http://10.0.0.1:9000"}.Host()
	assert.Equal(t, "10.0.0.1", host)
	assert.Equal(t, "9000", port)

	host, port = Registration{HealthURL: "https://svc.example.com/health"}.Host()
	assert.Equal(t, "svc.example.com", host)
	assert.Equal(t, "443", port)

	host, _ = Registration{}.Host()
	assert.Empty(t, host)
}

func TestParseStatus(t *testing.T) {
	cases := map[string]StatusValue{
		"UP":             StatusUp,
		"up":             StatusUp,
		"DOWN":           StatusDown,
		"OUT_OF_SERVICE": StatusDown,
		"UNKNOWN":        StatusUnknown,
		"OFFLINE":        StatusOffline,
	}
	for in, want := range cases {
		got, ok := ParseStatus(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseStatus("RESTARTING")
	assert.False(t, ok)
}

func TestWorstStatus(t *testing.T) {
	assert.Equal(t, StatusUnknown, WorstStatus())
	assert.Equal(t, StatusUp, WorstStatus(StatusUp, StatusUp))
	assert.Equal(t, StatusOffline, WorstStatus(StatusUp, StatusOffline, StatusUnknown))
	assert.Equal(t, StatusDown, WorstStatus(StatusOffline, StatusDown, StatusUp))
}

func TestGroupApplications(t *testing.T) {
	instances := []*Instance{
		{ID: "1", Registration: Registration{Name: "orders"}, StatusInfo: StatusInfo{Status: StatusUp}},
		{ID: "2", Registration: Registration{Name: "billing"}, StatusInfo: StatusInfo{Status: StatusUp}},
		{ID: "3", Registration: Registration{Name: "orders"}, StatusInfo: StatusInfo{Status: StatusOffline}},
	}

	apps := GroupApplications(instances)
	require.Len(t, apps, 2)
	assert.Equal(t, "billing", apps[0].Name)
	assert.Equal(t, StatusUp, apps[0].Status)
	assert.Equal(t, "orders", apps[1].Name)
	assert.Equal(t, StatusOffline, apps[1].Status)
	assert.Equal(t, 1, apps[1].Counts[StatusUp])
	assert.Equal(t, 1, apps[1].Counts[StatusOffline])
}

func TestInstanceClone(t *testing.T) {
	orig := &Instance{
		ID:            "1",
		Registration:  Registration{Name: "a", Metadata: map[string]string{"k": "v"}},
		StatusInfo:    StatusInfo{Status: StatusUp, Details: map[string]interface{}{"db": "UP"}},
		StatusHistory: []StatusEntry{{Status: StatusUp, Timestamp: time.Now()}},
	}

	c := orig.Clone()
	c.Registration.Metadata["k"] = "changed"
	c.StatusInfo.Details["db"] = "DOWN"
	c.StatusHistory[0].Status = StatusDown

	assert.Equal(t, "v", orig.Registration.Metadata["k"])
	assert.Equal(t, "UP", orig.StatusInfo.Details["db"])
	assert.Equal(t, StatusUp, orig.StatusHistory[0].Status)
}

func TestErrorCodes(t *testing.T) {
	err := fmt.Errorf("获取实例失败: %w", NewNotFoundError("abc"))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsStaleUpdate(err))
	assert.True(t, errors.Is(err, &Error{Code: ErrNotFound}))
	assert.Equal(t, "NotFound", CodeOf(err).String())

	assert.True(t, IsStaleUpdate(NewStaleUpdateError("abc")))
	assert.True(t, IsValidation(NewValidationError("bad", errors.New("name"))))
	assert.Equal(t, ErrorCode(0), CodeOf(errors.New("plain")))
}
