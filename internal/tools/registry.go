package tools

import (
	"context"
	"fmt"

	"map-agent/internal/shared/model"
)

// Scope 生成目录时的上下文
type Scope struct {
	MapID  string
	UserID string
}

// Provider 工具提供方
//
// 每轮调用一次，可根据 Scope 决定提供哪些工具以及工具的参数枚举。
type Provider interface {
	Tools(ctx context.Context, scope Scope) ([]Tool, error)
}

// ProviderFunc 以函数实现的 Provider
type ProviderFunc func(ctx context.Context, scope Scope) ([]Tool, error)

// Tools 返回工具列表
func (f ProviderFunc) Tools(ctx context.Context, scope Scope) ([]Tool, error) {
	return f(ctx, scope)
}

// Static 返回固定工具列表的 Provider
func Static(tools ...Tool) Provider {
	return ProviderFunc(func(context.Context, Scope) ([]Tool, error) {
		return tools, nil
	})
}

// Registry 工具注册表
type Registry struct {
	providers []Provider
}

// NewRegistry 创建注册表，providers 按顺序决定工具在目录中的顺序
func NewRegistry(providers ...Provider) *Registry {
	ps := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return &Registry{providers: ps}
}

// Build 生成本轮的工具目录
func (r *Registry) Build(ctx context.Context, scope Scope) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]Tool)}
	for _, p := range r.providers {
		ts, err := p.Tools(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("build tool catalog: %w", err)
		}
		for _, t := range ts {
			name := t.Spec().Name
			if _, dup := c.byName[name]; dup {
				return nil, fmt.Errorf("build tool catalog: duplicate tool %q", name)
			}
			c.byName[name] = t
			c.tools = append(c.tools, t)
		}
	}
	return c, nil
}

// Catalog 一轮编排使用的不可变工具目录
type Catalog struct {
	tools  []Tool
	byName map[string]Tool
}

// Lookup 按名称查找工具，不存在时返回 ErrUnknownTool
func (c *Catalog) Lookup(name string) (Tool, error) {
	if t, ok := c.byName[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

// Specs 返回提供给模型的工具描述
func (c *Catalog) Specs() []model.ToolSpec {
	specs := make([]model.ToolSpec, 0, len(c.tools))
	for _, t := range c.tools {
		specs = append(specs, t.Spec())
	}
	return specs
}

// Names 返回工具名称列表
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tools))
	for _, t := range c.tools {
		names = append(names, t.Spec().Name)
	}
	return names
}

// Len 返回工具数量
func (c *Catalog) Len() int {
	return len(c.tools)
}
