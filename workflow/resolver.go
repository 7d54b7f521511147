package workflow

import (
	"context"
	"sort"

	"github.com/pkg/errors"
)

func workflowPoToEntity(po *WorkflowPo) *WorkflowEntity {
	return &WorkflowEntity{
		ID:        po.ID,
		Name:      po.Name,
		Model:     po.Model,
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	}
}

// nodePoToEntity 节点Po转entity,规则JSON在这里解析成类型化规则树
func nodePoToEntity(po *WorkflowNodePo) (*WorkflowNodeEntity, error) {
	rules, err := ParseNodeRules(po.Rules)
	if err != nil {
		return nil, errors.WithMessagef(err, "parse rules failed, nodeID: %s", po.ID)
	}
	return &WorkflowNodeEntity{
		ID:                   po.ID,
		WorkflowID:           po.WorkflowID,
		CompanyID:            po.CompanyID,
		Number:               po.Number,
		FullPath:             po.FullPath,
		NameBeforeActivation: po.NameBeforeActivation,
		NameAfterActivation:  po.NameAfterActivation,
		Active:               po.Active,
		Rules:                rules,
		Hardlock:             po.Hardlock,
		Initial:              po.Initial,
		ParentID:             po.ParentID,
		Order:                po.Order,
	}, nil
}

func objectPoToEntity(po *WorkflowObjectPo) *WorkflowObjectEntity {
	return &WorkflowObjectEntity{
		ID:          po.ID,
		ObjectID:    po.ObjectID,
		WorkflowID:  po.WorkflowID,
		StateID:     po.StateID,
		StateNumber: po.StateNumber,
		Comment:     po.Comment,
		Active:      po.Active,
		Score:       po.Score,
		CreatedAt:   po.CreatedAt,
	}
}

// getWorkflowByModel 按业务对象类型取工作流定义,一种类型只有一个工作流
func (s *WorkflowServiceImpl) getWorkflowByModel(ctx context.Context, model string) (*WorkflowPo, error) {
	workflows, err := s.repo.QueryWorkflow(ctx, &QueryWorkflowParams{
		Model: &model,
		Page: &Pager{
			Page: 1,
			Size: 1,
		},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflow failed, model: %s", model)
	}
	if len(workflows) == 0 {
		return nil, errors.WithMessagef(ErrWorkflowNotFound, "workflow not found, model: %s", model)
	}
	return workflows[0], nil
}

func (s *WorkflowServiceImpl) GetWorkflowByModel(ctx context.Context, model string) (*WorkflowEntity, error) {
	if model == "" {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "model is empty")
	}
	po, err := s.getWorkflowByModel(ctx, model)
	if err != nil {
		return nil, err
	}
	return workflowPoToEntity(po), nil
}

func (s *WorkflowServiceImpl) queryActiveNodes(ctx context.Context, workflowID string, companyID string) ([]*WorkflowNodePo, error) {
	return s.repo.QueryWorkflowNode(ctx, &QueryWorkflowNodeParams{
		WorkflowID:       &workflowID,
		CompanyID:        &companyID,
		Active:           Bool(true),
		OrderbyNumberAsc: Bool(true),
		Page: &Pager{
			IsNoLimit: Bool(true),
		},
	})
}

func (s *WorkflowServiceImpl) GetCompanyNodes(ctx context.Context, companyID string, workflowID string) ([]*WorkflowNodeEntity, error) {
	if companyID == "" || workflowID == "" {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "GetCompanyNodes failed, companyID: %s, workflowID: %s", companyID, workflowID)
	}
	pos, err := s.resolveCompanyNodePos(ctx, companyID, workflowID)
	if err != nil {
		return nil, err
	}
	nodes := make([]*WorkflowNodeEntity, 0, len(pos))
	for _, po := range pos {
		node, err := nodePoToEntity(po)
		if err != nil {
			return nil, errors.WithMessagef(err, "GetCompanyNodes failed, workflowID: %s", workflowID)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// resolveCompanyNodePos 公司视角的有效节点集
// 系统公司直接返回自己的active节点;其他公司自己的节点按number覆盖系统节点
func (s *WorkflowServiceImpl) resolveCompanyNodePos(ctx context.Context, companyID string, workflowID string) ([]*WorkflowNodePo, error) {
	companyNodes, err := s.queryActiveNodes(ctx, workflowID, companyID)
	if err != nil {
		return nil, errors.WithMessagef(err, "query company nodes failed, companyID: %s, workflowID: %s", companyID, workflowID)
	}
	if companyID == s.systemCompanyID {
		return companyNodes, nil
	}

	systemNodes, err := s.queryActiveNodes(ctx, workflowID, s.systemCompanyID)
	if err != nil {
		return nil, errors.WithMessagef(err, "query system nodes failed, workflowID: %s", workflowID)
	}
	companyNumbers := make(map[int64]struct{}, len(companyNodes))
	for _, node := range companyNodes {
		companyNumbers[node.Number] = struct{}{}
	}
	merged := make([]*WorkflowNodePo, 0, len(companyNodes)+len(systemNodes))
	merged = append(merged, companyNodes...)
	for _, node := range systemNodes {
		if _, ok := companyNumbers[node.Number]; ok {
			// 公司自己的同号节点覆盖系统节点
			continue
		}
		merged = append(merged, node)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Order != merged[j].Order {
			return merged[i].Order < merged[j].Order
		}
		return merged[i].Number < merged[j].Number
	})
	return merged, nil
}

func (s *WorkflowServiceImpl) GetModelAllStates(ctx context.Context, model string) ([]*StateChoice, error) {
	if model == "" {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "GetModelAllStates failed, model is empty")
	}
	wf, err := s.getWorkflowByModel(ctx, model)
	if err != nil {
		return nil, errors.WithMessagef(err, "GetModelAllStates failed, model: %s", model)
	}
	nodes, err := s.repo.QueryWorkflowNode(ctx, &QueryWorkflowNodeParams{
		WorkflowID:       &wf.ID,
		OrderbyNumberAsc: Bool(true),
		Page: &Pager{
			IsNoLimit: Bool(true),
		},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowNode failed, workflowID: %s", wf.ID)
	}
	// 按number去重,同号取第一个
	seen := make(map[int64]struct{}, len(nodes))
	choices := make([]*StateChoice, 0, len(nodes))
	for _, node := range nodes {
		if _, ok := seen[node.Number]; ok {
			continue
		}
		seen[node.Number] = struct{}{}
		label := node.NameAfterActivation
		if label == "" {
			label = node.NameBeforeActivation
		}
		choices = append(choices, &StateChoice{Label: label, Value: node.Number})
	}
	sort.Slice(choices, func(i, j int) bool { return choices[i].Value < choices[j].Value })
	return choices, nil
}

// findStateNode 按号查状态节点,先找最近公司的,找不到回退系统公司
// 都找不到返回nil,由调用方决定怎么处理
func (s *WorkflowServiceImpl) findStateNode(ctx context.Context, workflowID string, companyID string, number int64) (*WorkflowNodeEntity, error) {
	node, err := s.queryStateNode(ctx, workflowID, companyID, number)
	if err != nil {
		return nil, err
	}
	if node == nil && companyID != s.systemCompanyID {
		node, err = s.queryStateNode(ctx, workflowID, s.systemCompanyID, number)
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

func (s *WorkflowServiceImpl) queryStateNode(ctx context.Context, workflowID string, companyID string, number int64) (*WorkflowNodeEntity, error) {
	pos, err := s.repo.QueryWorkflowNode(ctx, &QueryWorkflowNodeParams{
		WorkflowID: &workflowID,
		CompanyID:  &companyID,
		Number:     &number,
		Page: &Pager{
			Page: 1,
			Size: 1,
		},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowNode failed, workflowID: %s, companyID: %s, number: %d", workflowID, companyID, number)
	}
	if len(pos) == 0 {
		return nil, nil
	}
	return nodePoToEntity(pos[0])
}

// getStateName 状态号的展示名,取该工作流下同号节点的name_before_activation
// 没有节点时回退到数字本身
func (s *WorkflowServiceImpl) getStateName(ctx context.Context, workflowID string, number int64) (string, bool) {
	pos, err := s.repo.QueryWorkflowNode(ctx, &QueryWorkflowNodeParams{
		WorkflowID: &workflowID,
		Number:     &number,
		Page: &Pager{
			Page: 1,
			Size: 1,
		},
	})
	if err != nil || len(pos) == 0 {
		return "", false
	}
	return pos[0].NameBeforeActivation, true
}
