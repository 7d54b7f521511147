package workflow

import (
	"context"
)

// WorkflowRepo 工作流存储网关
// 引擎核心只依赖这个接口,不关心底层存储,store_gorm.go是参考实现
type WorkflowRepo interface {
	CreateWorkflow(ctx context.Context, workflow *WorkflowPo) (*WorkflowPo, error)
	QueryWorkflow(ctx context.Context, param *QueryWorkflowParams) ([]*WorkflowPo, error)
	CreateWorkflowNode(ctx context.Context, node *WorkflowNodePo) (*WorkflowNodePo, error)
	QueryWorkflowNode(ctx context.Context, param *QueryWorkflowNodeParams) ([]*WorkflowNodePo, error)
	UpdateWorkflowNode(ctx context.Context, param *UpdateWorkflowNodeParams) error
	CreateWorkflowObject(ctx context.Context, object *WorkflowObjectPo) (*WorkflowObjectPo, error)
	QueryWorkflowObject(ctx context.Context, param *QueryWorkflowObjectParams) ([]*WorkflowObjectPo, error)
	CountWorkflowObject(ctx context.Context, param *QueryWorkflowObjectParams) (int64, error)
	UpdateWorkflowObject(ctx context.Context, param *UpdateWorkflowObjectParams) error
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
