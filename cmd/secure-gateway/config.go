package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dep2p/go-secure-gateway/config"
	"github.com/dep2p/go-secure-gateway/internal/core/translate"
	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// ============================================================================
//                              配置加载（CLI 专用）
// ============================================================================

// fileConfig JSON 配置文件结构
type fileConfig struct {
	// Peers 预置对端：标识注释 -> Ed25519 验证公钥（hex）
	Peers map[string]string `json:"peers"`

	// Rules 翻译规则
	Rules []fileRule `json:"rules"`

	// Routes 路由条目
	Routes []fileRoute `json:"routes"`

	// Session 会话策略（省略项取默认值）
	Session *fileSession `json:"session,omitempty"`
}

type fileRule struct {
	Name     string        `json:"name"`
	From     string        `json:"from"`
	To       string        `json:"to"`
	Priority int           `json:"priority,omitempty"`
	Mappings []fileMapping `json:"mappings"`
}

type fileMapping struct {
	Destination string   `json:"destination"`
	Op          string   `json:"op"`
	Source      string   `json:"source,omitempty"`
	Factor      float64  `json:"factor,omitempty"`
	Offset      float64  `json:"offset,omitempty"`
	DefaultUint *uint64  `json:"default_uint,omitempty"`
	DefaultHex  string   `json:"default_hex,omitempty"`
}

type fileRoute struct {
	Name     string `json:"name"`
	From     string `json:"from"`
	Pattern  string `json:"pattern"`
	Peer     string `json:"peer"`
	Rule     string `json:"rule"`
	Priority int    `json:"priority,omitempty"`
}

type fileSession struct {
	MaxMessages    uint64 `json:"max_messages,omitempty"`
	RotateInterval string `json:"rotate_interval,omitempty"`
	GracePeriod    string `json:"grace_period,omitempty"`
	ReplayWindow   uint   `json:"replay_window,omitempty"`
	IdleTimeout    string `json:"idle_timeout,omitempty"`
}

// loadConfigFile 从 JSON 文件加载配置
func loadConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: 用户指定的配置文件路径是预期行为
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &fc, nil
}

// parseProtocol 解析协议名
func parseProtocol(s string) (types.ProtocolType, error) {
	switch s {
	case "legacy1553", "1553":
		return types.ProtocolLegacy1553, nil
	case "modern_enip", "enip":
		return types.ProtocolModernENIP, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
}

// parseMappingOp 解析映射操作名
func parseMappingOp(s string) (translate.MappingOp, error) {
	switch s {
	case "identity":
		return translate.MapIdentity, nil
	case "rename":
		return translate.MapRename, nil
	case "scale":
		return translate.MapScale, nil
	case "default":
		return translate.MapDefault, nil
	default:
		return 0, fmt.Errorf("unknown mapping op %q", s)
	}
}

// buildGatewayConfig 把文件配置转换为网关配置
func buildGatewayConfig(fc *fileConfig) (*config.Config, error) {
	rules := make([]translate.Rule, 0, len(fc.Rules))
	for _, fr := range fc.Rules {
		from, err := parseProtocol(fr.From)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", fr.Name, err)
		}
		to, err := parseProtocol(fr.To)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", fr.Name, err)
		}

		mappings := make([]translate.Mapping, 0, len(fr.Mappings))
		for _, fm := range fr.Mappings {
			op, err := parseMappingOp(fm.Op)
			if err != nil {
				return nil, fmt.Errorf("rule %q mapping %q: %w", fr.Name, fm.Destination, err)
			}
			m := translate.Mapping{
				Destination: fm.Destination,
				Op:          op,
				Source:      fm.Source,
				Factor:      fm.Factor,
				Offset:      fm.Offset,
			}
			switch {
			case fm.DefaultUint != nil:
				m.Default = &types.Field{Kind: types.FieldUnsigned, Uint: *fm.DefaultUint}
			case fm.DefaultHex != "":
				b, err := hexBytes(fm.DefaultHex)
				if err != nil {
					return nil, fmt.Errorf("rule %q mapping %q: %w", fr.Name, fm.Destination, err)
				}
				m.Default = &types.Field{Kind: types.FieldBytes, Bytes: b}
			}
			mappings = append(mappings, m)
		}

		rules = append(rules, translate.Rule{
			Name:     fr.Name,
			From:     from,
			To:       to,
			Priority: fr.Priority,
			Mappings: mappings,
		})
	}

	ruleSet, err := translate.NewRuleSet(rules)
	if err != nil {
		return nil, err
	}

	routes := make([]config.Route, 0, len(fc.Routes))
	for _, fr := range fc.Routes {
		from, err := parseProtocol(fr.From)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", fr.Name, err)
		}
		routes = append(routes, config.Route{
			Name:     fr.Name,
			From:     from,
			Pattern:  fr.Pattern,
			Peer:     types.PeerID(fr.Peer),
			Rule:     fr.Rule,
			Priority: fr.Priority,
		})
	}

	cfg := config.DefaultConfig()
	cfg.Rules = ruleSet
	cfg.Routes = config.NewRouteTable(routes)

	if fc.Session != nil {
		if fc.Session.MaxMessages > 0 {
			cfg.Session.Rotation.MaxMessages = fc.Session.MaxMessages
		}
		if err := parseDurationInto(fc.Session.RotateInterval, &cfg.Session.Rotation.Interval); err != nil {
			return nil, err
		}
		if err := parseDurationInto(fc.Session.GracePeriod, &cfg.Session.Rotation.Grace); err != nil {
			return nil, err
		}
		if fc.Session.ReplayWindow > 0 {
			cfg.Session.ReplayWindow = fc.Session.ReplayWindow
		}
		if err := parseDurationInto(fc.Session.IdleTimeout, &cfg.Session.IdleTimeout); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}
