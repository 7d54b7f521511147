package commonregister

import (
	"context"
	"fmt"

	"github.com/blingmoon/tenant-workflow/workflow"
	"github.com/pkg/errors"
)

// CompanyRelationModel 公司合作关系对象的工作流model
const CompanyRelationModel = "company_relation"

// 公司合作关系的状态号,和人力外包业务里的客户生命周期对应
const (
	StateNew            int64 = 10 // 新建
	StateContactMade    int64 = 20 // 已建联
	StateQualified      int64 = 30 // 已验证资质
	StateCreditApproved int64 = 40 // 信用审批通过
	StateActive         int64 = 50 // 合作中
	StateOnHold         int64 = 60 // 暂停
	StateSuspended      int64 = 70 // 冻结
	StateClosed         int64 = 80 // 关闭
)

// RegisterCompanyRelationWorkflow 注册公司合作关系的系统默认工作流
// 建工作流定义和系统节点,注册节点规则引用的谓词函数和动作
// 流程: 新建 -> 已建联 -> 已验证资质/信用审批 -> 合作中 -> 暂停/冻结/关闭
func RegisterCompanyRelationWorkflow(ctx context.Context, service workflow.WorkflowService, systemCompanyID string) error {
	// 1. 注册谓词函数,信用审批节点的required_functions引用它们
	err := workflow.RegisterWorkflowFunction(CompanyRelationModel, "has_primary_contact", "Primary contact",
		func(ctx context.Context, subject workflow.WorkflowSubject) bool {
			rel, ok := subject.(*CompanyRelation)
			if !ok {
				return false
			}
			return rel.PrimaryContactID != ""
		},
	)
	if err != nil {
		return errors.Wrap(err, "register has_primary_contact failed")
	}

	err = workflow.RegisterWorkflowFunction(CompanyRelationModel, "credit_check_passed", "Credit check",
		func(ctx context.Context, subject workflow.WorkflowSubject) bool {
			rel, ok := subject.(*CompanyRelation)
			if !ok {
				return false
			}
			return rel.CreditCheckPassed
		},
	)
	if err != nil {
		return errors.Wrap(err, "register credit_check_passed failed")
	}

	// 2. 注册动作,进入合作中状态时触发
	err = workflow.RegisterWorkflowAction(CompanyRelationModel, "send_activation_notice",
		func(ctx context.Context, subject workflow.WorkflowSubject) error {
			rel, ok := subject.(*CompanyRelation)
			if !ok {
				return errors.New("subject is not a CompanyRelation")
			}
			fmt.Printf("  [通知] 公司关系 %s 进入合作状态\n", rel.ID)
			return nil
		},
	)
	if err != nil {
		return errors.Wrap(err, "register send_activation_notice failed")
	}

	// 3. 建工作流定义
	wf, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
		Name:  "公司合作关系流程",
		Model: CompanyRelationModel,
	})
	if err != nil {
		return errors.Wrap(err, "create company relation workflow failed")
	}

	// 4. 建系统默认节点
	nodes := []*workflow.CreateWorkflowNodeReq{
		{
			WorkflowID:           wf.ID,
			CompanyID:            systemCompanyID,
			Number:               StateNew,
			NameBeforeActivation: "New",
			Initial:              true,
			Hardlock:             true,
		},
		{
			WorkflowID:           wf.ID,
			CompanyID:            systemCompanyID,
			Number:               StateContactMade,
			NameBeforeActivation: "Contact made",
			Rules: &workflow.NodeRules{
				RequiredStates:    workflow.StateRule{Number: StateNew},
				RequiredFunctions: workflow.FunctionRule{Name: "has_primary_contact"},
			},
		},
		{
			WorkflowID:           wf.ID,
			CompanyID:            systemCompanyID,
			Number:               StateQualified,
			NameBeforeActivation: "Qualified",
			Rules: &workflow.NodeRules{
				RequiredStates: workflow.StateRule{Number: StateContactMade},
			},
		},
		{
			WorkflowID:           wf.ID,
			CompanyID:            systemCompanyID,
			Number:               StateCreditApproved,
			NameBeforeActivation: "Credit approved",
			Rules: &workflow.NodeRules{
				RequiredStates:    workflow.StateRule{Number: StateContactMade},
				RequiredFunctions: workflow.FunctionRule{Name: "credit_check_passed"},
			},
		},
		{
			WorkflowID:           wf.ID,
			CompanyID:            systemCompanyID,
			Number:               StateActive,
			NameBeforeActivation: "Activating",
			NameAfterActivation:  "Active",
			Rules: &workflow.NodeRules{
				RequiredStates: workflow.AndRule{Rules: []workflow.Rule{
					workflow.StateRule{Number: StateQualified},
					workflow.StateRule{Number: StateCreditApproved},
				}},
				Active:  []int64{StateActive},
				Actions: []string{"send_activation_notice"},
			},
			Hardlock: true,
		},
		{
			WorkflowID:           wf.ID,
			CompanyID:            systemCompanyID,
			Number:               StateOnHold,
			NameBeforeActivation: "On hold",
			Rules: &workflow.NodeRules{
				RequiredStates: workflow.StateRule{Number: StateActive},
				Active:         []int64{StateOnHold},
				Inactive:       []int64{StateActive},
			},
		},
		{
			WorkflowID:           wf.ID,
			CompanyID:            systemCompanyID,
			Number:               StateSuspended,
			NameBeforeActivation: "Suspended",
			Rules: &workflow.NodeRules{
				RequiredStates: workflow.OrRule{Rules: []workflow.Rule{
					workflow.StateRule{Number: StateActive},
					workflow.StateRule{Number: StateOnHold},
				}},
				Active: []int64{StateSuspended},
			},
		},
		{
			WorkflowID:           wf.ID,
			CompanyID:            systemCompanyID,
			Number:               StateClosed,
			NameBeforeActivation: "Closed",
			Rules: &workflow.NodeRules{
				Active: []int64{StateClosed},
			},
			Hardlock: true,
		},
	}
	for _, req := range nodes {
		if _, err := service.CreateWorkflowNode(ctx, req); err != nil {
			return errors.Wrapf(err, "create workflow node failed, number: %d", req.Number)
		}
	}
	return nil
}

// CompanyRelation 公司合作关系对象,实现WorkflowSubject
type CompanyRelation struct {
	workflow.BaseWorkflowSubject

	ID                string
	CompanyID         string
	PrimaryContactID  string
	CreditCheckPassed bool
}

func (r *CompanyRelation) GetID() string {
	return r.ID
}

func (r *CompanyRelation) GetClosestCompanyID() string {
	return r.CompanyID
}

func (r *CompanyRelation) GetWorkflowModel() string {
	return CompanyRelationModel
}
