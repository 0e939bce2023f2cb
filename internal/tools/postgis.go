package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"map-agent/internal/notify"
	"map-agent/internal/shared/model"
	"map-agent/internal/shared/storage"
)

const (
	ToolQueryPostGIS = "query_postgis_database"

	// MaxQueryLimit 查询必须携带的 LIMIT 上限
	MaxQueryLimit = 1000
	// MaxResultChars 查询结果文本上限
	MaxResultChars = 25000
	// DefaultQueryTimeout 单次查询超时
	DefaultQueryTimeout = 30 * time.Second
)

var limitPattern = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\b`)

// ConnectionStore PostGIS 工具依赖的连接存储能力
type ConnectionStore interface {
	GetPostgresConnection(ctx context.Context, id, ownerID string) (*model.PostgresConnection, error)
}

// QueryResult 查询结果
type QueryResult struct {
	Columns []string
	Rows    [][]any
}

// Querier 对用户数据库执行只读查询
type Querier interface {
	Query(ctx context.Context, connectionURI, sql string) (*QueryResult, error)
}

// PgxQuerier 每次查询建立一条独立的 pgx 连接
type PgxQuerier struct{}

// Query 执行查询
func (PgxQuerier) Query(ctx context.Context, connectionURI, sql string) (*QueryResult, error) {
	conn, err := pgx.Connect(ctx, connectionURI)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	rows, err := conn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := &QueryResult{}
	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, fd.Name)
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, values)
	}
	return res, rows.Err()
}

// PostGISTool query_postgis_database
type PostGISTool struct {
	conns    ConnectionStore
	querier  Querier
	notifier *notify.Notifier
	timeout  time.Duration
}

// NewPostGISTool 创建 PostGIS 查询工具；querier 为 nil 时使用 pgx
func NewPostGISTool(conns ConnectionStore, querier Querier, notifier *notify.Notifier) *PostGISTool {
	if querier == nil {
		querier = PgxQuerier{}
	}
	return &PostGISTool{conns: conns, querier: querier, notifier: notifier, timeout: DefaultQueryTimeout}
}

// Tools 实现 Provider
func (p *PostGISTool) Tools(context.Context, Scope) ([]Tool, error) {
	return []Tool{p}, nil
}

// Spec 工具描述
func (p *PostGISTool) Spec() model.ToolSpec {
	return model.ToolSpec{
		Name:        ToolQueryPostGIS,
		Description: fmt.Sprintf("Execute SQL queries on connected PostgreSQL/PostGIS databases. Use for data analysis, spatial queries, and exploring database tables. The query MUST include a LIMIT clause with a value less than %d.", MaxQueryLimit),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"postgis_connection_id": map[string]any{
					"type":        "string",
					"description": "User's PostGIS connection ID to query against",
				},
				"sql_query": map[string]any{
					"type":        "string",
					"description": "SQL query to execute. Examples: 'SELECT COUNT(*) FROM table_name', 'SELECT * FROM spatial_table LIMIT 10'. Use standard SQL syntax.",
				},
			},
			"required":             []string{"postgis_connection_id", "sql_query"},
			"additionalProperties": false,
		},
	}
}

type postgisArgs struct {
	ConnectionID string `json:"postgis_connection_id"`
	SQLQuery     string `json:"sql_query"`
}

// Execute 执行查询
func (p *PostGISTool) Execute(ctx context.Context, call Call) (model.ToolResult, error) {
	var args postgisArgs
	if err := call.Decode(&args); err != nil {
		return model.ToolResult{}, err
	}
	if args.ConnectionID == "" || args.SQLQuery == "" {
		return model.ToolResult{}, call.Errorf("Missing required parameters (postgis_connection_id or sql_query)")
	}

	conn, err := p.conns.GetPostgresConnection(ctx, args.ConnectionID, call.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.ToolResult{}, call.Errorf("PostGIS connection '%s' not found or you do not have access to it.", args.ConnectionID)
	}
	if err != nil {
		return model.ToolResult{}, err
	}

	query := strings.TrimSpace(args.SQLQuery)
	if err := CheckLimit(query); err != nil {
		return model.ToolResult{}, call.Errorf("%s", err.Error())
	}

	var result model.ToolResult
	err = p.notifier.Track(ctx, call.MapID, "Querying PostgreSQL database...", func(ctx context.Context) error {
		qctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		res, err := p.querier.Query(qctx, conn.ConnectionURI, query)
		if err != nil {
			result = model.ToolResult{
				Status: model.ResultError,
				Error:  fmt.Sprintf("PostgreSQL query error: %v", err),
				Data:   map[string]any{"query": query},
			}
			return nil
		}
		result = formatQueryResult(res, query)
		return nil
	})
	return result, err
}

// CheckLimit 要求查询带有 LIMIT n 且 n 不超过上限
func CheckLimit(query string) error {
	m := limitPattern.FindStringSubmatch(query)
	if m == nil {
		return fmt.Errorf("Query must include a LIMIT clause with a value less than %d", MaxQueryLimit)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n > MaxQueryLimit {
		return fmt.Errorf("LIMIT value %s exceeds maximum allowed limit of %d", m[1], MaxQueryLimit)
	}
	return nil
}

func formatQueryResult(res *QueryResult, query string) model.ToolResult {
	if len(res.Rows) == 0 {
		return model.SuccessResult(map[string]any{
			"message":   "Query executed successfully but returned no rows",
			"row_count": 0,
			"query":     query,
		})
	}

	var text string
	if len(res.Rows) == 1 && len(res.Columns) == 1 {
		text = fmt.Sprintf("Query result: %v", res.Rows[0][0])
	} else {
		lines := make([]string, 0, len(res.Rows)+1)
		lines = append(lines, strings.Join(res.Columns, "\t"))
		for _, row := range res.Rows {
			cells := make([]string, len(row))
			for i, v := range row {
				if v != nil {
					cells[i] = fmt.Sprint(v)
				}
			}
			lines = append(lines, strings.Join(cells, "\t"))
		}
		text = strings.Join(lines, "\n")
	}

	if len(text) > MaxResultChars {
		return model.ErrorResultf("Query result too large: %d characters exceeds %d character limit. Try reducing the number of columns or rows.", len(text), MaxResultChars)
	}
	return model.SuccessResult(map[string]any{
		"result":    text,
		"row_count": len(res.Rows),
		"query":     query,
	})
}
