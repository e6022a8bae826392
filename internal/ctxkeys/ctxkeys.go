package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	executionIDKey  contextKey = "execution_id"
	subflowDepthKey contextKey = "subflow_depth"
	historyScopeKey contextKey = "history_scope"
)

// WithExecutionID 设置当前工作流执行 ID
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// ExecutionID 获取当前工作流执行 ID
func ExecutionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(executionIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithSubflowDepth 设置子流程嵌套深度
func WithSubflowDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, subflowDepthKey, depth)
}

// SubflowDepth 获取子流程嵌套深度，未设置时为 0
func SubflowDepth(ctx context.Context) int {
	v, _ := ctx.Value(subflowDepthKey).(int)
	return v
}

// WithHistoryScope 设置执行历史键前缀，嵌套工作流的节点记录在该前缀下
func WithHistoryScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, historyScopeKey, scope)
}

// HistoryScope 获取执行历史键前缀，顶层工作流为空
func HistoryScope(ctx context.Context) string {
	v, _ := ctx.Value(historyScopeKey).(string)
	return v
}
