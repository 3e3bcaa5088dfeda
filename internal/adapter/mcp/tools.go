package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/port"
	"github.com/guillermoBallester/querygate/internal/core/service"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server metadata
const serverName = "querygate"

// Tool descriptions
const (
	descListTables = "List the tables you are allowed to query, with schema, estimated row count and column count. " +
		"Only these tables may appear in FROM or JOIN clauses."

	descPreviewQuery = "Run a read-only SELECT and return the first few rows as {headers, rows, row_count, column_count, rate_limit_remaining}. " +
		"The query is validated first: only a single SELECT over allowed tables, no data modification, " +
		"no UNION SELECT, no hex literals, no timing functions, no schema introspection. " +
		"Each successful validation consumes one request from your rate-limit window. " +
		"Use validate_query first if you are unsure whether a query is acceptable."

	descMaterializeQuery = "Run a read-only SELECT in full and save the result under a title. " +
		"Returns the saved result's id alongside the rows. Results larger than the row or column ceiling are refused; " +
		"add a LIMIT clause. SELECT * always requires a LIMIT."

	descValidateQuery = "Check a query against every validation rule without running it or using quota. " +
		"Returns {valid, errors} listing every violation found."

	descQueryParam = "SQL query (a single SELECT statement)"

	descGetQuota = "Report how many requests remain in your current rate-limit window and when it resets."
)

// Gateway is the subset of the query service the tools drive.
type Gateway interface {
	Preview(ctx context.Context, req domain.QueryRequest) (*service.ExecutionResult, error)
	Materialize(ctx context.Context, req domain.MaterializeRequest) (*service.ExecutionResult, error)
	Validate(ctx context.Context, req domain.QueryRequest) (domain.ValidationOutcome, error)
	Quota(ctx context.Context, principalID string) (domain.RateLimitState, error)
}

// TableLister backs list_tables.
type TableLister interface {
	ListTables(ctx context.Context) ([]port.TableInfo, error)
}

func RegisterTools(s *server.MCPServer, gateway Gateway, tables TableLister) {
	if tables != nil {
		s.AddTool(
			mcp.NewTool("list_tables",
				mcp.WithDescription(descListTables),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			listTablesHandler(tables),
		)
	}

	s.AddTool(
		mcp.NewTool("preview_query",
			mcp.WithDescription(descPreviewQuery),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description(descQueryParam),
			),
		),
		previewHandler(gateway),
	)

	s.AddTool(
		mcp.NewTool("materialize_query",
			mcp.WithDescription(descMaterializeQuery),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description(descQueryParam),
			),
			mcp.WithString("title",
				mcp.Required(),
				mcp.Description("Title to save the result under"),
			),
			mcp.WithString("description",
				mcp.Description("Optional longer description of the result"),
			),
		),
		materializeHandler(gateway),
	)

	s.AddTool(
		mcp.NewTool("validate_query",
			mcp.WithDescription(descValidateQuery),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description(descQueryParam),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		validateHandler(gateway),
	)

	s.AddTool(
		mcp.NewTool("get_quota",
			mcp.WithDescription(descGetQuota),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		quotaHandler(gateway),
	)
}

func listTablesHandler(tables TableLister) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if domain.PrincipalFrom(ctx) == "" {
			return mcp.NewToolResultError(sanitizeError(&domain.AuthError{})), nil
		}
		list, err := tables.ListTables(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list tables: %s", sanitizeError(err))), nil
		}
		return jsonResult(list)
	}
}

func previewHandler(gateway Gateway) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, _ := request.GetArguments()["sql"].(string)

		res, err := gateway.Preview(ctx, newRequest(ctx, sql))
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(err)), nil
		}
		return jsonResult(res)
	}
}

func materializeHandler(gateway Gateway) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		sql, _ := args["sql"].(string)
		title, _ := args["title"].(string)
		description, _ := args["description"].(string)

		res, err := gateway.Materialize(ctx, domain.MaterializeRequest{
			QueryRequest: newRequest(ctx, sql),
			Title:        title,
			Description:  description,
		})
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(err)), nil
		}
		return jsonResult(res)
	}
}

func validateHandler(gateway Gateway) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, _ := request.GetArguments()["sql"].(string)

		outcome, err := gateway.Validate(ctx, newRequest(ctx, sql))
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(err)), nil
		}
		return jsonResult(outcome)
	}
}

type quotaResult struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

func quotaHandler(gateway Gateway) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := gateway.Quota(ctx, domain.PrincipalFrom(ctx))
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(err)), nil
		}
		return jsonResult(quotaResult{
			Limit:     st.MaxRequests,
			Used:      st.Count,
			Remaining: st.Remaining(),
			ResetsAt:  st.ResetsAt(),
		})
	}
}

func newRequest(ctx context.Context, sql string) domain.QueryRequest {
	return domain.QueryRequest{
		PrincipalID: domain.PrincipalFrom(ctx),
		RawText:     sql,
		SubmittedAt: time.Now().UTC(),
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// sanitizeError turns a gateway error into text safe to hand back to the
// model. Driver errors and anything unrecognized never leak.
func sanitizeError(err error) string {
	var (
		authErr *domain.AuthError
		vErr    *domain.ValidationError
		rlErr   *domain.RateLimitError
		dsErr   *domain.DataStoreError
	)
	switch {
	case errors.As(err, &vErr):
		return "query rejected:\n- " + strings.Join(vErr.Errors, "\n- ")
	case errors.As(err, &authErr), errors.As(err, &rlErr):
		return err.Error()
	case domain.IsExecutionError(err):
		if errors.As(err, &dsErr) {
			return dsErr.Message
		}
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "query timed out"
	case errors.Is(err, domain.ErrCounterContention):
		return "rate limiter busy, try again"
	default:
		return "internal error (check server logs)"
	}
}
