// Package main 提供安全网关守护进程
//
// 在遗留总线与现代网络之间运行双向安全网关。
//
// 使用方法:
//
//	secure-gateway -config gateway.json -ws-listen :8443
//
// 对端身份（Ed25519 验证公钥）通过配置文件离线预置，
// 未预置的对端无法完成握手。
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	securegateway "github.com/dep2p/go-secure-gateway"
	"github.com/dep2p/go-secure-gateway/internal/core/identity"
	"github.com/dep2p/go-secure-gateway/internal/transport"
	"github.com/dep2p/go-secure-gateway/pkg/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "gateway.json", "配置文件路径")
	wsListen := flag.String("ws-listen", "", "WebSocket 监听地址（接受对端网关连接）")
	peerURL := flag.String("peer-url", "", "对端网关 WebSocket 地址（主动拨号）")
	peerID := flag.String("peer", "", "拨号对端的标识（须已在配置中预置）")
	legacyBusURL := flag.String("legacy-bus", "", "1553 总线适配器 WebSocket 地址")
	modernBusURL := flag.String("modern-bus", "", "ENIP 总线适配器 WebSocket 地址")
	metricsAddr := flag.String("metrics", "", "Prometheus 指标监听地址（如 :9090）")
	logLevel := flag.String("log-level", "info", "日志级别: debug/info/warn/error")
	showVersion := flag.Bool("version", false, "打印版本并退出")
	flag.Parse()

	if *showVersion {
		fmt.Println(securegateway.VersionInfo())
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalCh
		fmt.Printf("\n收到信号 %v，正在关闭...\n", sig)
		cancel()
	}()

	fc, err := loadConfigFile(*configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	cfg, err := buildGatewayConfig(fc)
	if err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}

	// 身份：每次启动生成，对端公钥离线预置
	ids, err := identity.Generate()
	if err != nil {
		return err
	}
	for name, pubHex := range fc.Peers {
		pub, err := hexBytes(pubHex)
		if err != nil {
			return fmt.Errorf("peer %q: %w", name, err)
		}
		id, err := ids.Provision(pub, time.Time{})
		if err != nil {
			return fmt.Errorf("peer %q: %w", name, err)
		}
		fmt.Printf("已预置对端 %s: %s\n", name, id)
	}

	opts := []securegateway.Option{
		securegateway.WithIdentity(ids),
		securegateway.WithConfig(cfg),
		securegateway.WithLogLevel(parseLogLevel(*logLevel)),
	}

	registry := prometheus.NewRegistry()
	if *metricsAddr != "" {
		opts = append(opts, securegateway.WithMetrics(registry))
	}
	if *peerURL != "" {
		if *peerID == "" {
			return fmt.Errorf("-peer-url 需要同时指定 -peer")
		}
		opts = append(opts, securegateway.WithPeerWS(types.PeerID(*peerID), *peerURL))
	}
	if *legacyBusURL != "" {
		bus, err := transport.DialWS(ctx, *legacyBusURL)
		if err != nil {
			return fmt.Errorf("连接 1553 总线失败: %w", err)
		}
		opts = append(opts, securegateway.WithBus(types.ProtocolLegacy1553, bus))
	}
	if *modernBusURL != "" {
		bus, err := transport.DialWS(ctx, *modernBusURL)
		if err != nil {
			return fmt.Errorf("连接 ENIP 总线失败: %w", err)
		}
		opts = append(opts, securegateway.WithBus(types.ProtocolModernENIP, bus))
	}

	gw, err := securegateway.Start(ctx, opts...)
	if err != nil {
		return fmt.Errorf("启动网关失败: %w", err)
	}
	defer func() { _ = gw.Close() }()

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("%s\n", securegateway.VersionInfo())
	fmt.Printf("网关标识: %s\n", gw.ID())
	fmt.Printf("验证公钥: %s\n", hex.EncodeToString(ids.VerifyKey()))
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, registry)
	}
	if *wsListen != "" {
		go serveWS(ctx, gw, *wsListen)
	}
	if *peerID != "" {
		if err := gw.Connect(types.PeerID(*peerID)); err != nil {
			return fmt.Errorf("发起握手失败: %w", err)
		}
	}

	<-ctx.Done()
	fmt.Println("网关已退出")
	return nil
}

// serveWS 接受对端网关的 WebSocket 连接
//
// 对端以查询参数 ?peer=<id> 声明身份，未预置的身份直接拒绝；
// 真正的认证发生在随后的会话握手中。
func serveWS(ctx context.Context, gw *securegateway.Gateway, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/link", func(w http.ResponseWriter, r *http.Request) {
		peer := types.PeerID(r.URL.Query().Get("peer"))
		if err := peer.Validate(); err != nil {
			http.Error(w, "invalid peer id", http.StatusBadRequest)
			return
		}
		conn, err := transport.AcceptWS(w, r)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		if err := gw.ServePeer(ctx, peer, conn); err != nil {
			fmt.Printf("链路 %s 退出: %v\n", peer, err)
		}
	})

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	fmt.Printf("WebSocket 监听: %s/link\n", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "WebSocket 服务退出: %v\n", err)
	}
}

// serveMetrics 暴露 Prometheus 指标
func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	fmt.Printf("指标监听: %s/metrics\n", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "指标服务退出: %v\n", err)
	}
}

// parseLogLevel 解析日志级别
func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// hexBytes 解析 hex 字符串
func hexBytes(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

// parseDurationInto 解析时长（空串保持原值）
func parseDurationInto(s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
