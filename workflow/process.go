package workflow

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// workflowProcess 一次操作范围内的状态机视图
// active状态集在操作开始时加载,单次操作内复用,跨操作不缓存
type workflowProcess struct {
	service       *WorkflowServiceImpl
	subject       WorkflowSubject
	workflow      *WorkflowPo
	activeObjects []*WorkflowObjectEntity
}

func (s *WorkflowServiceImpl) newWorkflowProcess(ctx context.Context, subject WorkflowSubject) (*workflowProcess, error) {
	if subject == nil {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "subject is nil")
	}
	wf, err := s.getWorkflowByModel(ctx, subject.GetWorkflowModel())
	if err != nil {
		return nil, errors.WithMessagef(err, "newWorkflowProcess failed, model: %s", subject.GetWorkflowModel())
	}
	proc := &workflowProcess{
		service:  s,
		subject:  subject,
		workflow: wf,
	}
	if err := proc.reloadActiveStates(ctx); err != nil {
		return nil, err
	}
	return proc, nil
}

// reloadActiveStates 重新加载active状态集,按 state_number desc, created_at desc
func (p *workflowProcess) reloadActiveStates(ctx context.Context) error {
	objectID := p.subject.GetID()
	if objectID == "" {
		p.activeObjects = make([]*WorkflowObjectEntity, 0)
		return nil
	}
	pos, err := p.service.repo.QueryWorkflowObject(ctx, &QueryWorkflowObjectParams{
		ObjectID:          &objectID,
		WorkflowID:        &p.workflow.ID,
		Active:            Bool(true),
		OrderbyNumberDesc: Bool(true),
		Page: &Pager{
			IsNoLimit: Bool(true),
		},
	})
	if err != nil {
		return errors.WithMessagef(err, "QueryWorkflowObject failed, objectID: %s", objectID)
	}
	p.activeObjects = make([]*WorkflowObjectEntity, 0, len(pos))
	for _, po := range pos {
		p.activeObjects = append(p.activeObjects, objectPoToEntity(po))
	}
	return nil
}

func (p *workflowProcess) activeNumbers() map[int64]struct{} {
	numbers := make(map[int64]struct{}, len(p.activeObjects))
	for _, obj := range p.activeObjects {
		numbers[obj.StateNumber] = struct{}{}
	}
	return numbers
}

func (p *workflowProcess) ruleContext(ctx context.Context) *ruleContext {
	return &ruleContext{
		activeNumbers: p.activeNumbers(),
		checkFunction: func(name string) bool {
			return checkWorkflowFunction(ctx, p.subject, name)
		},
		stateName: func(number int64) string {
			name, ok := p.service.getStateName(ctx, p.workflow.ID, number)
			if ok {
				return name
			}
			return strconv.FormatInt(number, 10)
		},
	}
}

// isAllowed 状态是否可以创建
// 节点为nil或者状态号已active直接false;
// required_states和required_functions独立求值,同时满足才允许
func (p *workflowProcess) isAllowed(ctx context.Context, node *WorkflowNodeEntity) bool {
	if node == nil {
		return false
	}
	if _, ok := p.activeNumbers()[node.Number]; ok {
		return false
	}
	if node.Rules == nil {
		return true
	}
	rctx := p.ruleContext(ctx)
	result := true
	if node.Rules.RequiredStates != nil {
		result = checkRule(node.Rules.RequiredStates, rctx)
	}
	if node.Rules.RequiredFunctions != nil {
		result = result && checkRule(node.Rules.RequiredFunctions, rctx)
	}
	return result
}

// requiredMessages 目标状态不可进入时的提示消息
// required_functions总是检查,required_states由requireStates控制
func (p *workflowProcess) requiredMessages(ctx context.Context, node *WorkflowNodeEntity, requireStates bool) []string {
	messages := make([]string, 0)
	if _, ok := p.activeNumbers()[node.Number]; ok {
		return append(messages, "State is already active")
	}
	if node.Rules == nil {
		return messages
	}
	rctx := p.ruleContext(ctx)
	functionName := func(name string) string {
		return workflowFunctionName(p.subject.GetWorkflowModel(), name)
	}
	checks := []Rule{node.Rules.RequiredFunctions}
	if requireStates {
		checks = append(checks, node.Rules.RequiredStates)
	}
	for _, rule := range checks {
		if rule == nil {
			continue
		}
		if checkRule(rule, rctx) {
			// or组合满足时里面可能还有未满足的分支,不能只看消息是否为空
			continue
		}
		part := ruleMessage(rule, rctx, functionName)
		if part == "" {
			continue
		}
		verb := "is"
		if strings.Contains(part, " or ") || strings.Contains(part, " and ") {
			verb = "are"
		}
		messages = append(messages, part+" "+verb+" required.")
	}
	return messages
}

// applyTransition 状态转移副作用
// rules.active是保持active的状态号白名单,不在名单内的active状态统一取消激活;
// rules.actions按注册表执行,没注册的动作跳过,动作报错会让整个转移事务回滚
func (p *workflowProcess) applyTransition(ctx context.Context, node *WorkflowNodeEntity, newObjectID string) error {
	if err := p.reloadActiveStates(ctx); err != nil {
		return err
	}
	if node.Rules == nil {
		return nil
	}
	if node.Rules.Active != nil {
		if err := p.deactivateExcept(ctx, node.Rules.Active, newObjectID); err != nil {
			return err
		}
	}
	for _, name := range node.Rules.Actions {
		action, ok := getWorkflowAction(p.subject.GetWorkflowModel(), name)
		if !ok {
			continue
		}
		if err := action(ctx, p.subject); err != nil {
			return errors.WithMessagef(err, "workflow action failed, model: %s, action: %s", p.subject.GetWorkflowModel(), name)
		}
	}
	return nil
}

// deactivateExcept 取消激活白名单之外的active状态,keepObjectID是本次新建的记录,不动
func (p *workflowProcess) deactivateExcept(ctx context.Context, allowNumbers []int64, keepObjectID string) error {
	allow := make(map[int64]struct{}, len(allowNumbers))
	for _, number := range allowNumbers {
		allow[number] = struct{}{}
	}
	deactivateIDs := make([]string, 0)
	for _, obj := range p.activeObjects {
		if obj.ID == keepObjectID {
			continue
		}
		if _, ok := allow[obj.StateNumber]; ok {
			continue
		}
		deactivateIDs = append(deactivateIDs, obj.ID)
	}
	if len(deactivateIDs) == 0 {
		return nil
	}
	err := p.service.repo.UpdateWorkflowObject(ctx, &UpdateWorkflowObjectParams{
		Where: &UpdateWorkflowObjectWhere{
			IDIn: deactivateIDs,
		},
		Fields: &UpdateWorkflowObjectField{
			Active: Bool(false),
		},
		LimitMax: len(deactivateIDs),
	})
	if err != nil {
		return errors.WithMessagef(err, "deactivate states failed, objectID: %s", p.subject.GetID())
	}
	return nil
}

// activeTrueWorkflow 激活路径的二级钩子,和applyTransition同样的取消激活语义
// 用在SetStateActive重新激活一个历史状态的场景
func (p *workflowProcess) activeTrueWorkflow(ctx context.Context, node *WorkflowNodeEntity, keepObjectID string) error {
	if err := p.reloadActiveStates(ctx); err != nil {
		return err
	}
	if node.Rules == nil || node.Rules.Active == nil {
		return nil
	}
	return p.deactivateExcept(ctx, node.Rules.Active, keepObjectID)
}

// activeFalseWorkflow 取消激活路径的二级钩子
// 节点rules.inactive里面列的状态号重新激活(每个号取最近一条inactive记录)
func (p *workflowProcess) activeFalseWorkflow(ctx context.Context, node *WorkflowNodeEntity) error {
	if node.Rules == nil || len(node.Rules.Inactive) == 0 {
		return nil
	}
	objectID := p.subject.GetID()
	for _, number := range node.Rules.Inactive {
		pos, err := p.service.repo.QueryWorkflowObject(ctx, &QueryWorkflowObjectParams{
			ObjectID:          &objectID,
			WorkflowID:        &p.workflow.ID,
			StateNumberIn:     []int64{number},
			Active:            Bool(false),
			OrderbyCreatedAsc: Bool(false),
			Page: &Pager{
				Page: 1,
				Size: 1,
			},
		})
		if err != nil {
			return errors.WithMessagef(err, "query inactive state failed, objectID: %s, number: %d", objectID, number)
		}
		if len(pos) == 0 {
			continue
		}
		err = p.service.repo.UpdateWorkflowObject(ctx, &UpdateWorkflowObjectParams{
			Where: &UpdateWorkflowObjectWhere{
				IDIn: []string{pos[0].ID},
			},
			Fields: &UpdateWorkflowObjectField{
				Active: Bool(true),
			},
			LimitMax: 1,
		})
		if err != nil {
			return errors.WithMessagef(err, "reactivate state failed, objectID: %s, number: %d", objectID, number)
		}
	}
	return nil
}

func (s *WorkflowServiceImpl) IsAllowed(ctx context.Context, subject WorkflowSubject, number int64) (bool, error) {
	proc, err := s.newWorkflowProcess(ctx, subject)
	if err != nil {
		return false, errors.WithMessagef(err, "IsAllowed failed, number: %d", number)
	}
	node, err := s.findStateNode(ctx, proc.workflow.ID, subject.GetClosestCompanyID(), number)
	if err != nil {
		return false, errors.WithMessagef(err, "IsAllowed failed, number: %d", number)
	}
	return proc.isAllowed(ctx, node), nil
}

func (s *WorkflowServiceImpl) GetActiveStates(ctx context.Context, subject WorkflowSubject) ([]*WorkflowObjectEntity, error) {
	proc, err := s.newWorkflowProcess(ctx, subject)
	if err != nil {
		return nil, errors.WithMessage(err, "GetActiveStates failed")
	}
	return proc.activeObjects, nil
}

func (s *WorkflowServiceImpl) GetCurrentState(ctx context.Context, subject WorkflowSubject) (*WorkflowNodeEntity, error) {
	proc, err := s.newWorkflowProcess(ctx, subject)
	if err != nil {
		return nil, errors.WithMessage(err, "GetCurrentState failed")
	}
	objectID := subject.GetID()
	pos, err := s.repo.QueryWorkflowObject(ctx, &QueryWorkflowObjectParams{
		ObjectID:          &objectID,
		WorkflowID:        &proc.workflow.ID,
		OrderbyCreatedAsc: Bool(false),
		Page: &Pager{
			Page: 1,
			Size: 1,
		},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowObject failed, objectID: %s", objectID)
	}
	if len(pos) == 0 {
		// 还没有进入过任何状态
		return nil, nil
	}
	return s.getNodeByID(ctx, pos[0].StateID)
}

func (s *WorkflowServiceImpl) HasState(ctx context.Context, subject WorkflowSubject, number int64) (bool, error) {
	if subject == nil {
		return false, errors.Wrap(ErrWorkflowParamInvalid, "subject is nil")
	}
	wf, err := s.getWorkflowByModel(ctx, subject.GetWorkflowModel())
	if err != nil {
		return false, errors.WithMessagef(err, "HasState failed, number: %d", number)
	}
	objectID := subject.GetID()
	count, err := s.repo.CountWorkflowObject(ctx, &QueryWorkflowObjectParams{
		ObjectID:      &objectID,
		WorkflowID:    &wf.ID,
		StateNumberIn: []int64{number},
		Active:        Bool(true),
	})
	if err != nil {
		return false, errors.WithMessagef(err, "CountWorkflowObject failed, objectID: %s, number: %d", objectID, number)
	}
	return count > 0, nil
}

func (s *WorkflowServiceImpl) GetAvailableStatesForCreation(ctx context.Context, subject WorkflowSubject) ([]*WorkflowNodeEntity, error) {
	proc, err := s.newWorkflowProcess(ctx, subject)
	if err != nil {
		return nil, errors.WithMessage(err, "GetAvailableStatesForCreation failed")
	}
	nodes, err := s.GetCompanyNodes(ctx, subject.GetClosestCompanyID(), proc.workflow.ID)
	if err != nil {
		return nil, errors.WithMessage(err, "GetAvailableStatesForCreation failed")
	}
	available := make([]*WorkflowNodeEntity, 0, len(nodes))
	for _, node := range nodes {
		if !proc.isAllowed(ctx, node) {
			// 已active的状态在isAllowed里面也会被挡掉
			continue
		}
		available = append(available, node)
	}
	return available, nil
}

func (s *WorkflowServiceImpl) GetRequiredMessages(ctx context.Context, subject WorkflowSubject, number int64, requireStates bool) ([]string, error) {
	proc, err := s.newWorkflowProcess(ctx, subject)
	if err != nil {
		return nil, errors.WithMessagef(err, "GetRequiredMessages failed, number: %d", number)
	}
	node, err := s.findStateNode(ctx, proc.workflow.ID, subject.GetClosestCompanyID(), number)
	if err != nil {
		return nil, errors.WithMessagef(err, "GetRequiredMessages failed, number: %d", number)
	}
	if node == nil {
		return nil, errors.WithMessagef(ErrWorkflowNodeNotFound, "workflow node not found, number: %d", number)
	}
	return proc.requiredMessages(ctx, node, requireStates), nil
}

func (s *WorkflowServiceImpl) GetRequiredMessage(ctx context.Context, subject WorkflowSubject, number int64) (string, error) {
	messages, err := s.GetRequiredMessages(ctx, subject, number, true)
	if err != nil {
		return "", err
	}
	return strings.Join(messages, " "), nil
}
