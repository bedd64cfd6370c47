package dnsserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/hewenyu/instance-admin/internal/config"
	"github.com/hewenyu/instance-admin/internal/core/model"
)

// InstanceLister 提供实例快照
type InstanceLister interface {
	List(ctx context.Context) ([]*model.Instance, error)
}

// lookupTimeout 单次查询读取实例列表的超时时间
const lookupTimeout = 2 * time.Second

// Server 以DNS形式暴露处于UP状态的实例
//
// <name>.<domain> 的A/AAAA查询返回该应用所有UP实例的地址，
// SRV查询（<name>.<domain> 或 _<name>._tcp.<domain>）返回主机和端口。
type Server struct {
	store  InstanceLister
	cfg    config.DNSConfig
	suffix string
	logger config.Logger

	udpServer *dns.Server
	tcpServer *dns.Server
	udpAddr   net.Addr
	tcpAddr   net.Addr
}

// NewServer 创建DNS服务器
func NewServer(store InstanceLister, cfg config.DNSConfig, logger config.Logger) *Server {
	return &Server{
		store:  store,
		cfg:    cfg,
		suffix: "." + dns.Fqdn(strings.ToLower(strings.Trim(cfg.Domain, "."))),
		logger: logger,
	}
}

// Start 启动DNS服务器，监听失败时直接返回错误
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.ListenAddress, strconv.Itoa(s.cfg.Port))
	s.logger.Info("启动DNS服务器",
		zap.String("address", addr),
		zap.String("protocol", s.cfg.Protocol),
		zap.String("domain", s.cfg.Domain))

	switch s.cfg.Protocol {
	case "udp":
		return s.startUDPServer(addr)
	case "tcp":
		return s.startTCPServer(addr)
	case "both", "":
		if err := s.startUDPServer(addr); err != nil {
			return err
		}
		return s.startTCPServer(addr)
	default:
		return fmt.Errorf("不支持的DNS协议: %s", s.cfg.Protocol)
	}
}

// startUDPServer 启动UDP服务器
func (s *Server) startUDPServer(addr string) error {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("监听UDP地址失败: %w", err)
	}
	s.udpAddr = pc.LocalAddr()
	s.udpServer = &dns.Server{PacketConn: pc, Handler: s}

	go func() {
		if err := s.udpServer.ActivateAndServe(); err != nil {
			s.logger.Error("UDP DNS服务器错误", zap.Error(err))
		}
	}()
	return nil
}

// startTCPServer 启动TCP服务器
func (s *Server) startTCPServer(addr string) error {
	if s.udpAddr != nil {
		// 与UDP使用同一端口
		addr = net.JoinHostPort(s.cfg.ListenAddress, strconv.Itoa(s.udpAddr.(*net.UDPAddr).Port))
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("监听TCP地址失败: %w", err)
	}
	s.tcpAddr = l.Addr()
	s.tcpServer = &dns.Server{Listener: l, Handler: s}

	go func() {
		if err := s.tcpServer.ActivateAndServe(); err != nil {
			s.logger.Error("TCP DNS服务器错误", zap.Error(err))
		}
	}()
	return nil
}

// UDPAddr 返回UDP监听地址
func (s *Server) UDPAddr() net.Addr {
	return s.udpAddr
}

// TCPAddr 返回TCP监听地址
func (s *Server) TCPAddr() net.Addr {
	return s.tcpAddr
}

// Shutdown 优雅关闭DNS服务器
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("正在关闭DNS服务器...")

	var errs []error
	if s.udpServer != nil {
		if err := s.udpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("关闭UDP DNS服务器失败: %w", err))
		}
	}
	if s.tcpServer != nil {
		if err := s.tcpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("关闭TCP DNS服务器失败: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ServeDNS 处理DNS请求
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	for _, q := range r.Question {
		s.logger.Debug("收到DNS查询",
			zap.String("name", q.Name),
			zap.String("type", dns.TypeToString[q.Qtype]))

		answers, found := s.answer(ctx, q)
		if !found {
			m.SetRcode(r, dns.RcodeNameError)
			continue
		}
		m.Answer = append(m.Answer, answers...)
	}

	if err := w.WriteMsg(m); err != nil {
		s.logger.Error("发送DNS响应失败", zap.Error(err))
	}
}

// appName 从查询名称中解析应用名
func (s *Server) appName(qname string) (string, bool) {
	name := strings.ToLower(dns.Fqdn(qname))
	if !strings.HasSuffix(name, s.suffix) {
		return "", false
	}
	name = strings.TrimSuffix(name, s.suffix)
	name = strings.TrimSuffix(name, "._tcp")
	name = strings.TrimPrefix(name, "_")
	if name == "" || strings.Contains(name, ".") {
		return "", false
	}
	return name, true
}

// answer 生成单个问题的应答，found 为 false 表示名称不存在
func (s *Server) answer(ctx context.Context, q dns.Question) ([]dns.RR, bool) {
	app, ok := s.appName(q.Name)
	if !ok {
		return nil, false
	}

	instances, err := s.store.List(ctx)
	if err != nil {
		s.logger.Warn("读取实例列表失败", zap.Error(err))
		return nil, false
	}

	var up []*model.Instance
	for _, inst := range instances {
		if strings.EqualFold(inst.Registration.Name, app) && inst.Status() == model.StatusUp {
			up = append(up, inst)
		}
	}
	if len(up) == 0 {
		return nil, false
	}

	hdr := func(rrtype uint16) dns.RR_Header {
		return dns.RR_Header{Name: q.Name, Rrtype: rrtype, Class: dns.ClassINET, Ttl: s.cfg.TTL}
	}

	seen := make(map[string]struct{})
	var answers []dns.RR
	for _, inst := range up {
		host, port := inst.Registration.Host()
		if host == "" {
			continue
		}
		key := host + ":" + port
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		ip := net.ParseIP(host)
		switch q.Qtype {
		case dns.TypeA:
			if ip != nil && ip.To4() != nil {
				answers = append(answers, &dns.A{Hdr: hdr(dns.TypeA), A: ip.To4()})
			}
		case dns.TypeAAAA:
			if ip != nil && ip.To4() == nil {
				answers = append(answers, &dns.AAAA{Hdr: hdr(dns.TypeAAAA), AAAA: ip})
			}
		case dns.TypeSRV:
			p, err := strconv.ParseUint(port, 10, 16)
			if err != nil {
				continue
			}
			answers = append(answers, &dns.SRV{
				Hdr:      hdr(dns.TypeSRV),
				Priority: 0,
				Weight:   1,
				Port:     uint16(p),
				Target:   dns.Fqdn(host),
			})
		}
	}
	return answers, true
}
