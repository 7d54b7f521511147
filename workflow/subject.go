package workflow

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// WorkflowSubject 参与工作流的业务对象能力接口
// 业务对象(公司关系/订单/工地/候选人等)实现这个接口后就可以挂到状态机上
type WorkflowSubject interface {
	// GetID 业务对象ID
	GetID() string
	// GetClosestCompanyID 业务对象归属链路上最近的公司ID,节点解析按这个公司做覆盖
	GetClosestCompanyID() string
	// GetWorkflowModel 业务对象类型,和Workflow的绑定类型对应,如"company_relationship"
	GetWorkflowModel() string

	/**
	 * 生命周期钩子,默认空实现,按业务对象类型选择性覆盖
	 * BeforeStateCreation: 状态记录落库前
	 * AfterStateCreated: 状态记录落库且转移副作用执行完之后
	 * AfterStateActivated: 状态变为active之后(创建即active或后续重新激活)
	 * 钩子返回error会让整个转移事务回滚
	 */
	BeforeStateCreation(ctx context.Context, workflowObject *WorkflowObjectEntity) error
	AfterStateCreated(ctx context.Context, workflowObject *WorkflowObjectEntity) error
	AfterStateActivated(ctx context.Context, workflowObject *WorkflowObjectEntity) error
}

// BaseWorkflowSubject 钩子的空实现,业务对象嵌入后只覆盖需要的钩子
type BaseWorkflowSubject struct {
}

func (BaseWorkflowSubject) BeforeStateCreation(ctx context.Context, workflowObject *WorkflowObjectEntity) error {
	return nil
}

func (BaseWorkflowSubject) AfterStateCreated(ctx context.Context, workflowObject *WorkflowObjectEntity) error {
	return nil
}

func (BaseWorkflowSubject) AfterStateActivated(ctx context.Context, workflowObject *WorkflowObjectEntity) error {
	return nil
}

// WorkflowFunction 规则树里面函数条件对应的布尔函数
type WorkflowFunction func(ctx context.Context, subject WorkflowSubject) bool

// WorkflowAction 转移副作用动作,error会让整个转移事务回滚
type WorkflowAction func(ctx context.Context, subject WorkflowSubject) error

var (
	workflowFunctions = sync.Map{}
	workflowActions   = sync.Map{}
)

type workflowFunctionEntry struct {
	fn WorkflowFunction
	// description 消息生成时的展示名,为空时用函数名本身
	description string
}

// RegisterWorkflowFunction 注册规则函数,按 (model, name) 唯一
// description 是条件不满足时提示消息里的展示名,可以为空
func RegisterWorkflowFunction(model string, name string, description string, fn WorkflowFunction) error {
	if fn == nil {
		return errors.New("fn is nil")
	}
	key := model + "_" + name
	if _, ok := workflowFunctions.Load(key); ok {
		return errors.Errorf("workflow function already registered, model: %s, name: %s", model, name)
	}
	workflowFunctions.Store(key, &workflowFunctionEntry{fn: fn, description: description})
	return nil
}

// RegisterWorkflowAction 注册转移动作,按 (model, name) 唯一
func RegisterWorkflowAction(model string, name string, fn WorkflowAction) error {
	if fn == nil {
		return errors.New("fn is nil")
	}
	key := model + "_" + name
	if _, ok := workflowActions.Load(key); ok {
		return errors.Errorf("workflow action already registered, model: %s, name: %s", model, name)
	}
	workflowActions.Store(key, fn)
	return nil
}

func getWorkflowFunction(model string, name string) (*workflowFunctionEntry, bool) {
	entry, ok := workflowFunctions.Load(model + "_" + name)
	if !ok {
		return nil, false
	}
	ret, ok := entry.(*workflowFunctionEntry)
	if !ok {
		return nil, false
	}
	return ret, true
}

func getWorkflowAction(model string, name string) (WorkflowAction, bool) {
	action, ok := workflowActions.Load(model + "_" + name)
	if !ok {
		return nil, false
	}
	ret, ok := action.(WorkflowAction)
	if !ok {
		return nil, false
	}
	return ret, true
}

// checkWorkflowFunction 函数条件求值,函数没有注册按false处理
// 函数是按业务对象类型可选注册的,缺失不算错误
func checkWorkflowFunction(ctx context.Context, subject WorkflowSubject, name string) bool {
	entry, ok := getWorkflowFunction(subject.GetWorkflowModel(), name)
	if !ok {
		return false
	}
	return entry.fn(ctx, subject)
}

// workflowFunctionName 消息生成时函数条件的展示名
func workflowFunctionName(model string, name string) string {
	entry, ok := getWorkflowFunction(model, name)
	if !ok || entry.description == "" {
		return name
	}
	return entry.description
}
