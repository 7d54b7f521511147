package workflow

import (
	"context"
	"reflect"
	"strconv"

	"github.com/pkg/errors"
)

// validateNodeParams 节点校验入参,创建和编辑共用
type validateNodeParams struct {
	WorkflowID     string
	CompanyID      string
	Number         int64
	Active         bool
	Rules          *NodeRules
	IsNew          bool
	ExistingNodeID string
}

// validateWorkflowNode 节点定义校验,编码了真实的业务约束:
//  1. (company, workflow, number) 唯一
//  2. 系统节点hardlock时,各公司同号节点的active和rules不能和系统节点不一样
//  3. 改号时hardlock节点的号不能动,其他节点规则树引用了旧号也不能动
//
// 不能悄悄改坏其他节点的前置条件
func (s *WorkflowServiceImpl) validateWorkflowNode(ctx context.Context, param *validateNodeParams) error {
	exists, err := s.repo.QueryWorkflowNode(ctx, &QueryWorkflowNodeParams{
		WorkflowID:    &param.WorkflowID,
		CompanyID:     &param.CompanyID,
		Number:        &param.Number,
		ExcludeNodeID: excludeNodeID(param),
		Page: &Pager{
			Page: 1,
			Size: 1,
		},
	})
	if err != nil {
		return errors.WithMessagef(err, "query sibling node failed, workflowID: %s, number: %d", param.WorkflowID, param.Number)
	}
	if len(exists) > 0 {
		return errors.Wrapf(ErrValidation, "State with number %d already exist on company", param.Number)
	}

	if param.CompanyID != s.systemCompanyID {
		systemNode, err := s.queryStateNode(ctx, param.WorkflowID, s.systemCompanyID, param.Number)
		if err != nil {
			return errors.WithMessagef(err, "query system node failed, workflowID: %s, number: %d", param.WorkflowID, param.Number)
		}
		if systemNode != nil && systemNode.Hardlock {
			if systemNode.Active != param.Active {
				return errors.Wrapf(ErrValidation, "Active cannot be changed for hardlocked state %d", param.Number)
			}
			if !rulesEqual(systemNode.Rules, param.Rules) {
				return errors.Wrapf(ErrValidation, "Rules cannot be changed for hardlocked state %d", param.Number)
			}
		}
	}

	if param.IsNew {
		return nil
	}

	origin, err := s.getNodeByID(ctx, param.ExistingNodeID)
	if err != nil {
		return errors.WithMessagef(err, "query origin node failed, nodeID: %s", param.ExistingNodeID)
	}
	if origin.Number == param.Number {
		return nil
	}

	// 改号校验
	if origin.Hardlock {
		return errors.Wrap(ErrValidation, "Number cannot be changed.")
	}
	if param.CompanyID != s.systemCompanyID {
		systemOldNode, err := s.queryStateNode(ctx, param.WorkflowID, s.systemCompanyID, origin.Number)
		if err != nil {
			return errors.WithMessagef(err, "query system node failed, workflowID: %s, number: %d", param.WorkflowID, origin.Number)
		}
		if systemOldNode != nil && systemOldNode.Hardlock {
			return errors.Wrap(ErrValidation, "Number cannot be changed.")
		}
	}
	referenced, err := s.isNumberReferenced(ctx, param.WorkflowID, param.CompanyID, param.ExistingNodeID, origin.Number)
	if err != nil {
		return err
	}
	if referenced {
		return errors.Wrap(ErrValidation, "Number is used in other node's rules.")
	}
	return nil
}

func excludeNodeID(param *validateNodeParams) *string {
	if param.IsNew {
		return nil
	}
	return &param.ExistingNodeID
}

// isNumberReferenced 同公司同工作流的其他节点的required_states是否引用了这个状态号
func (s *WorkflowServiceImpl) isNumberReferenced(ctx context.Context, workflowID string, companyID string, selfNodeID string, number int64) (bool, error) {
	siblings, err := s.repo.QueryWorkflowNode(ctx, &QueryWorkflowNodeParams{
		WorkflowID:    &workflowID,
		CompanyID:     &companyID,
		ExcludeNodeID: &selfNodeID,
		Page: &Pager{
			IsNoLimit: Bool(true),
		},
	})
	if err != nil {
		return false, errors.WithMessagef(err, "query sibling nodes failed, workflowID: %s", workflowID)
	}
	for _, po := range siblings {
		node, err := nodePoToEntity(po)
		if err != nil {
			return false, errors.WithMessagef(err, "parse sibling node failed, nodeID: %s", po.ID)
		}
		for _, ref := range node.Rules.ReferencedStates() {
			if ref == number {
				return true, nil
			}
		}
	}
	return false, nil
}

func rulesEqual(a *NodeRules, b *NodeRules) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return reflect.DeepEqual(*a, *b)
}

func (s *WorkflowServiceImpl) getNodeByID(ctx context.Context, nodeID string) (*WorkflowNodeEntity, error) {
	pos, err := s.repo.QueryWorkflowNode(ctx, &QueryWorkflowNodeParams{
		WorkflowNodeID: &nodeID,
		Page: &Pager{
			Page: 1,
			Size: 1,
		},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowNode failed, nodeID: %s", nodeID)
	}
	if len(pos) == 0 {
		return nil, errors.WithMessagef(ErrWorkflowNodeNotFound, "workflow node not found, nodeID: %s", nodeID)
	}
	return nodePoToEntity(pos[0])
}

func (s *WorkflowServiceImpl) CreateWorkflow(ctx context.Context, req *CreateWorkflowReq) (*WorkflowEntity, error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CreateWorkflow failed, req: %v, err: %v", req, err)
	}
	exists, err := s.repo.QueryWorkflow(ctx, &QueryWorkflowParams{
		Model: &req.Model,
		Page: &Pager{
			Page: 1,
			Size: 1,
		},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflow failed, model: %s", req.Model)
	}
	if len(exists) > 0 {
		// 一种业务对象类型只能绑定一个工作流
		return nil, errors.Wrapf(ErrValidation, "Workflow for model %s already exists", req.Model)
	}
	po, err := s.repo.CreateWorkflow(ctx, &WorkflowPo{
		Name:  req.Name,
		Model: req.Model,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateWorkflow failed, model: %s", req.Model)
	}
	return workflowPoToEntity(po), nil
}

func (s *WorkflowServiceImpl) CreateWorkflowNode(ctx context.Context, req *CreateWorkflowNodeReq) (*WorkflowNodeEntity, error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CreateWorkflowNode failed, req: %v, err: %v", req, err)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	err := s.validateWorkflowNode(ctx, &validateNodeParams{
		WorkflowID: req.WorkflowID,
		CompanyID:  req.CompanyID,
		Number:     req.Number,
		Active:     active,
		Rules:      req.Rules,
		IsNew:      true,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateWorkflowNode failed, workflowID: %s, number: %d", req.WorkflowID, req.Number)
	}

	fullPath, err := s.buildFullPath(ctx, req.ParentID, req.Number)
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateWorkflowNode failed, workflowID: %s, number: %d", req.WorkflowID, req.Number)
	}
	rulesRaw, err := req.Rules.ToBytes()
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateWorkflowNode failed, workflowID: %s, number: %d", req.WorkflowID, req.Number)
	}
	po, err := s.repo.CreateWorkflowNode(ctx, &WorkflowNodePo{
		WorkflowID:           req.WorkflowID,
		CompanyID:            req.CompanyID,
		Number:               req.Number,
		FullPath:             fullPath,
		NameBeforeActivation: req.NameBeforeActivation,
		NameAfterActivation:  req.NameAfterActivation,
		Active:               active,
		Rules:                rulesRaw,
		Hardlock:             req.Hardlock,
		Initial:              req.Initial,
		ParentID:             req.ParentID,
		Order:                req.Order,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateWorkflowNode failed, workflowID: %s, number: %d", req.WorkflowID, req.Number)
	}
	return nodePoToEntity(po)
}

// buildFullPath 全路径创建时算一次: 根节点就是number,子节点挂在父节点全路径后面
func (s *WorkflowServiceImpl) buildFullPath(ctx context.Context, parentID string, number int64) (string, error) {
	if parentID == "" {
		return strconv.FormatInt(number, 10), nil
	}
	parent, err := s.getNodeByID(ctx, parentID)
	if err != nil {
		return "", errors.WithMessagef(err, "query parent node failed, parentID: %s", parentID)
	}
	return parent.FullPath + "." + strconv.FormatInt(number, 10), nil
}

func (s *WorkflowServiceImpl) UpdateWorkflowNode(ctx context.Context, req *UpdateWorkflowNodeReq) (*WorkflowNodeEntity, error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "UpdateWorkflowNode failed, req: %v, err: %v", req, err)
	}
	origin, err := s.getNodeByID(ctx, req.NodeID)
	if err != nil {
		return nil, errors.WithMessagef(err, "UpdateWorkflowNode failed, nodeID: %s", req.NodeID)
	}

	// 目标值: 没传的字段保持原值
	number := origin.Number
	if req.Number != nil {
		number = *req.Number
	}
	active := origin.Active
	if req.Active != nil {
		active = *req.Active
	}
	rules := origin.Rules
	if req.Rules != nil {
		rules = req.Rules
	}

	err = s.validateWorkflowNode(ctx, &validateNodeParams{
		WorkflowID:     origin.WorkflowID,
		CompanyID:      origin.CompanyID,
		Number:         number,
		Active:         active,
		Rules:          rules,
		IsNew:          false,
		ExistingNodeID: origin.ID,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "UpdateWorkflowNode failed, nodeID: %s", req.NodeID)
	}

	fields := &UpdateWorkflowNodeField{
		Number:               req.Number,
		NameBeforeActivation: req.NameBeforeActivation,
		NameAfterActivation:  req.NameAfterActivation,
		Active:               req.Active,
		Order:                req.Order,
	}
	if req.Rules != nil {
		rulesRaw, err := req.Rules.ToBytes()
		if err != nil {
			return nil, errors.WithMessagef(err, "UpdateWorkflowNode failed, nodeID: %s", req.NodeID)
		}
		fields.Rules = rulesRaw
	}
	err = s.repo.UpdateWorkflowNode(ctx, &UpdateWorkflowNodeParams{
		Where: &UpdateWorkflowNodeWhere{
			IDIn: []string{req.NodeID},
		},
		Fields:   fields,
		LimitMax: 1,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "UpdateWorkflowNode failed, nodeID: %s", req.NodeID)
	}
	return s.getNodeByID(ctx, req.NodeID)
}
