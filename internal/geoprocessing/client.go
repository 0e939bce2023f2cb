package geoprocessing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrorKind 地理处理失败类别
type ErrorKind string

const (
	KindInvalidInput  ErrorKind = "invalid_input"  // 参数或输入图层无效
	KindTransport     ErrorKind = "transport"      // 请求未能到达远程服务或超时
	KindRemoteFailure ErrorKind = "remote_failure" // 远程服务返回非 200 或无法解析的响应
	KindOutputMissing ErrorKind = "output_missing" // 远程服务未上传全部输出
	KindIngest        ErrorKind = "ingest"         // 输出导入失败
)

// Error 地理处理失败
type Error struct {
	Kind    ErrorKind
	Message string
	// Remote 远程服务返回的原始结果（如果有）
	Remote map[string]any
	// Created 失败前已经创建并挂载的图层
	Created []CreatedLayer
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind 判断 err 是否为指定类别的地理处理失败
func IsKind(err error, kind ErrorKind) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Kind == kind
}

// ProcessRequest POST /run_qgis_process 请求体
type ProcessRequest struct {
	AlgorithmID            string            `json:"algorithm_id"`
	QGISInputs             map[string]string `json:"qgis_inputs"`
	InputURLs              map[string]string `json:"input_urls"`
	OutputPresignedPutURLs map[string]string `json:"output_presigned_put_urls"`
}

// UploadResult 单个输出的上传结果
type UploadResult struct {
	Uploaded bool `json:"uploaded"`
}

// ProcessResponse 远程服务响应
type ProcessResponse struct {
	UploadResults map[string]UploadResult `json:"upload_results"`
	// Raw 完整响应，原样返回给模型
	Raw map[string]any `json:"-"`
}

// Client 远程 QGIS 处理服务客户端
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient 创建客户端
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// Process 执行一次处理请求
func (c *Client) Process(ctx context.Context, req *ProcessRequest) (*ProcessResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Message: "encode geoprocessing request", Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/run_qgis_process", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "build geoprocessing request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: fmt.Sprintf("QGIS processing request for %s failed", req.AlgorithmID), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "read geoprocessing response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:    KindRemoteFailure,
			Message: fmt.Sprintf("QGIS processing failed: %d - %s", resp.StatusCode, strings.TrimSpace(string(data))),
		}
	}

	var out ProcessResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &Error{Kind: KindRemoteFailure, Message: "QGIS processing returned an invalid response", Err: err}
	}
	if err := json.Unmarshal(data, &out.Raw); err != nil {
		return nil, &Error{Kind: KindRemoteFailure, Message: "QGIS processing returned an invalid response", Err: err}
	}
	return &out, nil
}
