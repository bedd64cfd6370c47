package model

import (
	"net/url"
	"sort"
	"strings"
	"time"
)

// StatusValue 表示实例健康状态
type StatusValue string

const (
	// StatusUp 实例健康
	StatusUp StatusValue = "UP"
	// StatusDown 实例可达但报告异常
	StatusDown StatusValue = "DOWN"
	// StatusUnknown 尚未探测
	StatusUnknown StatusValue = "UNKNOWN"
	// StatusOffline 实例不可达
	StatusOffline StatusValue = "OFFLINE"
)

// severity 数值越小越严重，用于聚合
var severity = map[StatusValue]int{
	StatusDown:    0,
	StatusOffline: 1,
	StatusUnknown: 2,
	StatusUp:      3,
}

// ParseStatus 解析健康检查端点返回的状态字符串
func ParseStatus(s string) (StatusValue, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP":
		return StatusUp, true
	case "DOWN", "OUT_OF_SERVICE":
		return StatusDown, true
	case "UNKNOWN":
		return StatusUnknown, true
	case "OFFLINE":
		return StatusOffline, true
	}
	return "", false
}

// WorstStatus 返回一组状态中最严重的一个，空集合返回UNKNOWN
func WorstStatus(statuses ...StatusValue) StatusValue {
	if len(statuses) == 0 {
		return StatusUnknown
	}
	worst := statuses[0]
	for _, s := range statuses[1:] {
		if severity[s] < severity[worst] {
			worst = s
		}
	}
	return worst
}

// Registration 实例注册元数据
type Registration struct {
	Name          string            `json:"name" validate:"required,max=255"`
	BaseURL       string            `json:"base_url,omitempty" validate:"omitempty,url"`
	ManagementURL string            `json:"management_url,omitempty" validate:"omitempty,url"`
	HealthURL     string            `json:"health_url,omitempty" validate:"omitempty,url"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Normalize 补全默认的健康检查地址
func (r Registration) Normalize() Registration {
	if r.HealthURL == "" && r.ManagementURL != "" {
		r.HealthURL = strings.TrimSuffix(r.ManagementURL, "/") + "/health"
	}
	return r
}

// Key 返回幂等注册使用的标识：优先使用BaseURL，否则使用HealthURL
func (r Registration) Key() string {
	r = r.Normalize()
	if r.BaseURL != "" {
		return normalizeURL(r.BaseURL)
	}
	return normalizeURL(r.HealthURL)
}

// Equal 判断两份注册元数据是否一致
func (r Registration) Equal(o Registration) bool {
	if r.Name != o.Name || r.BaseURL != o.BaseURL || r.ManagementURL != o.ManagementURL || r.HealthURL != o.HealthURL {
		return false
	}
	if len(r.Metadata) != len(o.Metadata) {
		return false
	}
	for k, v := range r.Metadata {
		if ov, ok := o.Metadata[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Host 返回实例的主机地址，优先BaseURL
func (r Registration) Host() (host, port string) {
	for _, raw := range []string{r.BaseURL, r.HealthURL, r.ManagementURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		port = u.Port()
		if port == "" {
			port = "80"
			if u.Scheme == "https" {
				port = "443"
			}
		}
		return u.Hostname(), port
	}
	return "", ""
}

func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// StatusInfo 最近一次探测得到的状态及详情
type StatusInfo struct {
	Status  StatusValue            `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// StatusEntry 状态历史中的一条记录
type StatusEntry struct {
	Status    StatusValue `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

// Instance 表示一个被监控的服务实例
type Instance struct {
	ID              string        `json:"id"`
	Registration    Registration  `json:"registration"`
	StatusInfo      StatusInfo    `json:"status_info"`
	StatusTimestamp time.Time     `json:"status_timestamp"`
	StatusHistory   []StatusEntry `json:"status_history"`
	LastChecked     time.Time     `json:"last_checked"`
	RegisteredAt    time.Time     `json:"registered_at"`
	LastHeartbeat   time.Time     `json:"last_heartbeat"`
	Version         int64         `json:"version"`
}

// Status 返回当前状态
func (i *Instance) Status() StatusValue {
	return i.StatusInfo.Status
}

// Clone 深拷贝实例
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	if i.Registration.Metadata != nil {
		c.Registration.Metadata = make(map[string]string, len(i.Registration.Metadata))
		for k, v := range i.Registration.Metadata {
			c.Registration.Metadata[k] = v
		}
	}
	if i.StatusInfo.Details != nil {
		c.StatusInfo.Details = make(map[string]interface{}, len(i.StatusInfo.Details))
		for k, v := range i.StatusInfo.Details {
			c.StatusInfo.Details[k] = v
		}
	}
	c.StatusHistory = append([]StatusEntry(nil), i.StatusHistory...)
	return &c
}

// SortInstances 按名称、ID排序
func SortInstances(instances []*Instance) {
	sort.Slice(instances, func(a, b int) bool {
		if instances[a].Registration.Name != instances[b].Registration.Name {
			return instances[a].Registration.Name < instances[b].Registration.Name
		}
		return instances[a].ID < instances[b].ID
	})
}

// Application 同名实例的聚合视图
type Application struct {
	Name      string              `json:"name"`
	Status    StatusValue         `json:"status"`
	Counts    map[StatusValue]int `json:"counts"`
	Instances []*Instance         `json:"instances"`
}

// GroupApplications 按服务名聚合实例，聚合状态取最严重值
func GroupApplications(instances []*Instance) []*Application {
	byName := make(map[string]*Application)
	names := make([]string, 0)
	for _, inst := range instances {
		name := inst.Registration.Name
		app, ok := byName[name]
		if !ok {
			app = &Application{Name: name, Counts: make(map[StatusValue]int)}
			byName[name] = app
			names = append(names, name)
		}
		app.Instances = append(app.Instances, inst)
		app.Counts[inst.Status()]++
	}
	sort.Strings(names)

	apps := make([]*Application, 0, len(names))
	for _, name := range names {
		app := byName[name]
		statuses := make([]StatusValue, 0, len(app.Instances))
		for _, inst := range app.Instances {
			statuses = append(statuses, inst.Status())
		}
		app.Status = WorstStatus(statuses...)
		apps = append(apps, app)
	}
	return apps
}
