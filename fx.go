package securegateway

import (
	"github.com/benbjohnson/clock"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-secure-gateway/config"
	"github.com/dep2p/go-secure-gateway/internal/core/events"
	"github.com/dep2p/go-secure-gateway/internal/core/identity"
	"github.com/dep2p/go-secure-gateway/internal/core/metrics"
	"github.com/dep2p/go-secure-gateway/internal/core/router"
)

// buildGateway 用 Fx 组装网关组件
//
// 组装顺序（按依赖）：
//  1. 身份存储（未提供时生成全新身份）
//  2. 时钟与遥测分发器（日志接收器始终挂载，指标按配置挂载）
//  3. 路由器（校验配置并持有全部会话）
func buildGateway(g *Gateway, o *options) error {
	var (
		ids *identity.Store
		rtr *router.Router
	)

	app := fx.New(
		fx.Supply(o.cfg),

		fx.Provide(
			func() (*identity.Store, error) {
				if o.ids != nil {
					return o.ids, nil
				}
				return identity.Generate()
			},
			func() clock.Clock {
				if o.clk != nil {
					return o.clk
				}
				return clock.New()
			},
			func() *metrics.Sink {
				if o.registry == nil {
					return nil
				}
				return metrics.NewSink(o.registry)
			},
			func(msink *metrics.Sink) *events.Dispatcher {
				d := events.NewDispatcher(events.NewLogSink())
				if msink != nil {
					d.Attach(msink)
				}
				if o.sink != nil {
					d.Attach(o.sink)
				}
				return d
			},
			func(cfg *config.Config, ids *identity.Store, clk clock.Clock,
				sink *events.Dispatcher, msink *metrics.Sink) (*router.Router, error) {
				return router.New(cfg, ids, clk, sink, msink)
			},
		),

		fx.Populate(&ids, &rtr),

		// 禁用 Fx 自身日志输出
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return err
	}

	g.ids = ids
	g.rtr = rtr
	return nil
}
