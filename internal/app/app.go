package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/hewenyu/instance-admin/internal/admin"
	adminservice "github.com/hewenyu/instance-admin/internal/admin/service"
	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/core/model"
	"github.com/hewenyu/instance-admin/internal/dnsserver"
	"github.com/hewenyu/instance-admin/internal/eventbus"
	"github.com/hewenyu/instance-admin/internal/notify"
	"github.com/hewenyu/instance-admin/internal/poller"
	"github.com/hewenyu/instance-admin/internal/registration"
	regservice "github.com/hewenyu/instance-admin/internal/registration/service"
	"github.com/hewenyu/instance-admin/internal/store/etcd"
	"github.com/hewenyu/instance-admin/internal/store/instance"
	"github.com/hewenyu/instance-admin/internal/webclient"
)

// App 组装并管理所有组件的生命周期
type App struct {
	cfg    *config.Config
	logger config.Logger

	registry metrics.Registry
	bus      *eventbus.Bus
	store    *instance.MemoryInstanceStore
	poller   *poller.Poller

	adminServer        *admin.Server
	registrationServer *registration.Server
	dnsServer          *dnsserver.Server

	dispatcher *notify.Dispatcher
	reminder   *notify.RemindingNotifier

	etcdClient *etcd.Client
	mirror     *etcd.Mirror

	cancel context.CancelFunc
}

// New 根据配置构建所有组件，不启动任何后台任务
func New(cfg *config.Config, logger config.Logger) (*App, error) {
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: metrics.NewRegistry(),
	}

	a.bus = eventbus.New(
		eventbus.WithQueueSize(cfg.Bus.QueueSize),
		eventbus.WithMetrics(a.registry),
	)
	a.store = instance.NewMemoryInstanceStore(a.bus, instance.WithHistorySize(cfg.Store.HistorySize))

	// 出站请求：先注入请求头，再记录审计日志
	client := webclient.NewClient(
		&http.Client{Timeout: 30 * time.Second},
		webclient.HeadersFilter(cfg.Probe.Headers),
		webclient.AuditLogFilter(logger.With(zap.String("component", "webclient"))),
	)

	prober := poller.NewProber(client, cfg.Poller.Timeout)
	a.poller = poller.NewPoller(a.store, a.bus, prober, cfg.Poller, a.registry, logger.With(zap.String("component", "poller")))

	adminSvc := adminservice.NewAdminService(a.store, a.poller, client, cfg.Admin.ActuatorTimeout)
	a.adminServer = admin.NewServer(adminSvc, a.bus, a.registry, cfg, logger.With(zap.String("component", "admin")))

	regSvc := regservice.NewRegistrationService(a.store, cfg.Registration.HeartbeatGrace, logger.With(zap.String("component", "registration")))
	a.registrationServer = registration.NewServer(regSvc, cfg, logger.With(zap.String("component", "registration")))

	notifier, reminder := buildNotifier(cfg.Notify, logger.With(zap.String("component", "notify")))
	if notifier != nil {
		a.dispatcher = notify.NewDispatcher(a.bus, notifier, 0, logger.With(zap.String("component", "notify")))
		a.reminder = reminder
	}

	if cfg.Etcd.Enabled {
		etcdClient, err := etcd.NewClient(cfg.Etcd)
		if err != nil {
			return nil, err
		}
		a.etcdClient = etcdClient
		repo := etcd.NewInstanceRepository(etcdClient, cfg.Etcd.Prefix)
		a.mirror = etcd.NewMirror(repo, a.store, a.bus, logger.With(zap.String("component", "etcd")),
			etcd.WithSyncInterval(cfg.Etcd.SyncInterval),
			etcd.WithDeleteWatcher(etcdClient))
	}

	if cfg.DNS.Enabled {
		a.dnsServer = dnsserver.NewServer(a.store, cfg.DNS, logger.With(zap.String("component", "dns")))
	}

	return a, nil
}

// buildNotifier 组装通知链：过滤、状态变化、提醒、各通知渠道
func buildNotifier(cfg config.NotifyConfig, logger config.Logger) (notify.Notifier, *notify.RemindingNotifier) {
	var sinks []notify.Notifier
	if cfg.Log.Enabled {
		sinks = append(sinks, notify.NewLoggingNotifier(logger))
	}
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Timeout))
	}
	if cfg.Redis.Addr != "" {
		sinks = append(sinks, notify.NewRedisNotifier(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic))
	}
	if len(sinks) == 0 {
		return nil, nil
	}

	var next notify.Notifier = notify.NewCompositeNotifier(sinks...)
	var reminder *notify.RemindingNotifier
	if cfg.Reminder.Period > 0 {
		statuses := make([]model.StatusValue, 0, len(cfg.Reminder.Statuses))
		for _, s := range cfg.Reminder.Statuses {
			if v, ok := model.ParseStatus(s); ok {
				statuses = append(statuses, v)
			}
		}
		reminder = notify.NewRemindingNotifier(next, cfg.Reminder.Period, statuses, logger)
		next = reminder
	}
	next = notify.NewStatusChangeNotifier(next)
	if len(cfg.Ignore) > 0 {
		next = notify.NewFilteringNotifier(next, cfg.Ignore...)
	}
	return next, reminder
}

// Registry 返回指标注册表
func (a *App) Registry() metrics.Registry {
	return a.registry
}

// Store 返回实例存储
func (a *App) Store() instance.InstanceStore {
	return a.store
}

// AdminHandler 返回管理API的HTTP处理器
func (a *App) AdminHandler() http.Handler {
	return a.adminServer.Echo()
}

// RegistrationHandler 返回注册API的HTTP处理器
func (a *App) RegistrationHandler() http.Handler {
	return a.registrationServer.Echo()
}

// Start 启动所有组件
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.mirror != nil {
		if err := a.etcdClient.Ping(ctx); err != nil {
			return err
		}
		if _, err := a.mirror.Restore(ctx); err != nil {
			return fmt.Errorf("从etcd恢复实例失败: %w", err)
		}
		a.mirror.Start(ctx)
	}

	if a.dispatcher != nil {
		a.dispatcher.Start(ctx)
	}
	if a.reminder != nil {
		a.reminder.Start(ctx)
	}

	if err := a.poller.Start(ctx); err != nil {
		return fmt.Errorf("启动探测器失败: %w", err)
	}
	if err := a.registrationServer.Start(); err != nil {
		return err
	}
	if err := a.adminServer.Start(); err != nil {
		return err
	}
	if a.dnsServer != nil {
		if err := a.dnsServer.Start(); err != nil {
			return err
		}
	}

	a.logger.Info("instance-admin 已启动",
		zap.Int("admin_port", a.cfg.Admin.Port),
		zap.Int("registration_port", a.cfg.Registration.Port),
		zap.Bool("etcd", a.cfg.Etcd.Enabled),
		zap.Bool("dns", a.cfg.DNS.Enabled))
	return nil
}

// Shutdown 按启动的相反顺序关闭所有组件
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	if err := a.adminServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("关闭管理API失败: %w", err))
	}
	if err := a.registrationServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("关闭注册API失败: %w", err))
	}
	if a.dnsServer != nil {
		if err := a.dnsServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	a.poller.Stop()
	if a.cancel != nil {
		a.cancel()
	}

	if a.dispatcher != nil {
		if err := a.dispatcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("关闭通知失败: %w", err))
		}
	}

	if a.mirror != nil {
		a.mirror.Stop()
		if a.mirror.Restored() {
			if err := a.mirror.Sync(ctx); err != nil {
				errs = append(errs, fmt.Errorf("etcd最终同步失败: %w", err))
			}
		} else {
			a.logger.Warn("未从etcd恢复实例，跳过最终同步")
		}
		if err := a.etcdClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭etcd客户端失败: %w", err))
		}
	}

	a.bus.Close()
	a.logger.Info("instance-admin 已关闭")
	return errors.Join(errs...)
}
