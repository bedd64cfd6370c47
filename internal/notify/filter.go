package notify

import (
	"context"
	"strings"

	"github.com/hewenyu/instance-admin/internal/core/model"
)

// StatusChangeNotifier 只转发状态变化和实例移除事件
//
// ignoreChanges 的格式为 "FROM:TO"，任一侧可用 "*" 匹配所有状态，
// 默认忽略 UNKNOWN:UP。
type StatusChangeNotifier struct {
	delegate Notifier
	ignore   []string
}

// NewStatusChangeNotifier 创建状态变化通知器
func NewStatusChangeNotifier(delegate Notifier, ignoreChanges ...string) *StatusChangeNotifier {
	if len(ignoreChanges) == 0 {
		ignoreChanges = []string{"UNKNOWN:UP"}
	}
	return &StatusChangeNotifier{delegate: delegate, ignore: ignoreChanges}
}

// Notify 实现Notifier接口
func (n *StatusChangeNotifier) Notify(ctx context.Context, event model.InstanceEvent) error {
	if !n.shouldNotify(event) {
		return nil
	}
	return n.delegate.Notify(ctx, event)
}

func (n *StatusChangeNotifier) shouldNotify(event model.InstanceEvent) bool {
	switch event.Type {
	case model.EventRemoved:
		return true
	case model.EventStatusChanged:
	default:
		return false
	}

	from, to := string(event.PreviousStatus), string(event.Status)
	for _, rule := range n.ignore {
		parts := strings.SplitN(rule, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if (parts[0] == "*" || parts[0] == from) && (parts[1] == "*" || parts[1] == to) {
			return false
		}
	}
	return true
}

// Close 关闭下游通知器
func (n *StatusChangeNotifier) Close() error {
	return closeNotifier(n.delegate)
}

// FilteringNotifier 丢弃被忽略的实例名称或ID的事件
type FilteringNotifier struct {
	delegate Notifier
	ignored  map[string]struct{}
}

// NewFilteringNotifier 创建过滤通知器
func NewFilteringNotifier(delegate Notifier, ignored ...string) *FilteringNotifier {
	set := make(map[string]struct{}, len(ignored))
	for _, v := range ignored {
		set[v] = struct{}{}
	}
	return &FilteringNotifier{delegate: delegate, ignored: set}
}

// Notify 实现Notifier接口
func (n *FilteringNotifier) Notify(ctx context.Context, event model.InstanceEvent) error {
	if _, ok := n.ignored[event.InstanceID]; ok {
		return nil
	}
	if _, ok := n.ignored[event.Name()]; ok {
		return nil
	}
	return n.delegate.Notify(ctx, event)
}

// Close 关闭下游通知器
func (n *FilteringNotifier) Close() error {
	return closeNotifier(n.delegate)
}
