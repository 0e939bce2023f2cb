package geoprocessing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"map-agent/internal/notify"
	"map-agent/internal/shared/model"
	"map-agent/internal/tools"
)

// Runner 执行算法
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}

// Provider 每个算法对应一个工具
type Provider struct {
	algorithms []Algorithm
	runner     Runner
	notifier   *notify.Notifier
}

// NewProvider 创建地理处理工具 Provider
func NewProvider(algorithms []Algorithm, runner Runner, notifier *notify.Notifier) *Provider {
	return &Provider{algorithms: algorithms, runner: runner, notifier: notifier}
}

// Tools 实现 tools.Provider
func (p *Provider) Tools(context.Context, tools.Scope) ([]tools.Tool, error) {
	ts := make([]tools.Tool, 0, len(p.algorithms))
	for _, a := range p.algorithms {
		ts = append(ts, &algorithmTool{alg: a, p: p})
	}
	return ts, nil
}

type algorithmTool struct {
	alg Algorithm
	p   *Provider
}

func (t *algorithmTool) Spec() model.ToolSpec {
	return model.ToolSpec{
		Name:        t.alg.ToolName(),
		Description: t.alg.Description,
		Parameters:  t.alg.Schema(),
	}
}

func (t *algorithmTool) Execute(ctx context.Context, call tools.Call) (model.ToolResult, error) {
	var args map[string]json.RawMessage
	if err := call.Decode(&args); err != nil {
		return model.ToolResult{}, err
	}
	for _, name := range t.alg.Required {
		if _, ok := args[name]; !ok {
			return model.ToolResult{}, call.Errorf("missing required parameter %s", name)
		}
	}

	var res *RunResult
	action := fmt.Sprintf("Running %s...", t.alg.ID)
	runErr := t.p.notifier.Track(ctx, call.MapID, action, func(ctx context.Context) error {
		var err error
		res, err = t.p.runner.Run(ctx, RunRequest{
			Algorithm: t.alg,
			MapID:     call.MapID,
			UserID:    call.UserID,
			Args:      args,
		})
		return err
	}, notify.WithStyleUpdate(true))

	if runErr != nil {
		return errorResult(t.alg.ID, runErr), nil
	}

	return model.SuccessResult(map[string]any{
		"message":        fmt.Sprintf("%s completed successfully", t.alg.ToolName()),
		"algorithm_id":   res.AlgorithmID,
		"qgis_result":    res.Remote,
		"created_layers": res.Created,
	}), nil
}

func errorResult(algorithmID string, err error) model.ToolResult {
	data := map[string]any{"algorithm_id": algorithmID}
	var gerr *Error
	if !errors.As(err, &gerr) {
		return model.ToolResult{
			Status: model.ResultError,
			Error:  fmt.Sprintf("Unexpected error running geoprocessing: %q", err.Error()),
			Data:   data,
		}
	}
	data["error_kind"] = string(gerr.Kind)
	if gerr.Remote != nil {
		data["qgis_result"] = gerr.Remote
	}
	message := gerr.Error()
	if len(gerr.Created) > 0 {
		data["created_layers"] = gerr.Created
		message = fmt.Sprintf("%s (%d output layers were already added to the map)", message, len(gerr.Created))
	}
	return model.ToolResult{Status: model.ResultError, Error: message, Data: data}
}
