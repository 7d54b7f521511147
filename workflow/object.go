package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
)

/**
 * @description: 给业务对象创建状态记录
 *				 同一业务对象的状态操作用锁串行,校验/落库/转移副作用/钩子在一个事务里面
 * @param ctx context.Context
 * @param subject WorkflowSubject
 * @param req *CreateStateReq
 * @return *WorkflowObjectEntity, error
 */
func (s *WorkflowServiceImpl) CreateState(ctx context.Context, subject WorkflowSubject, req *CreateStateReq) (*WorkflowObjectEntity, error) {
	if subject == nil {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "subject is nil")
	}
	if req == nil {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "nil CreateStateReq")
	}
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CreateStateReq invalid, err: %v", err)
	}
	var created *WorkflowObjectEntity
	err := s.executeLock.NonBlockingSynchronized(ctx, stateOpLockKey(subject.GetWorkflowModel(), subject.GetID()), stateOpLockMaxDuration, func(ctx context.Context) error {
		return s.repo.Transaction(ctx, func(ctx context.Context) error {
			entity, err := s.createStateInTransaction(ctx, subject, req)
			if err != nil {
				return err
			}
			created = entity
			return nil
		})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateState failed, model: %s, objectID: %s, number: %d",
			subject.GetWorkflowModel(), subject.GetID(), req.Number)
	}
	return created, nil
}

func (s *WorkflowServiceImpl) createStateInTransaction(ctx context.Context, subject WorkflowSubject, req *CreateStateReq) (*WorkflowObjectEntity, error) {
	proc, err := s.newWorkflowProcess(ctx, subject)
	if err != nil {
		return nil, err
	}
	node, err := s.findStateNode(ctx, proc.workflow.ID, subject.GetClosestCompanyID(), req.Number)
	if err != nil {
		return nil, err
	}
	if node == nil {
		// 找不到节点不报错: fixture导入和批量迁移会对还没配置工作流的公司调这里
		slog.WarnContext(ctx, fmt.Sprintf("CreateState skipped, workflow node not found, model: %s, objectID: %s, number: %d",
			subject.GetWorkflowModel(), subject.GetID(), req.Number))
		return nil, nil
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	if !req.Raw {
		if err := s.validateStateCreation(ctx, proc, node); err != nil {
			return nil, err
		}
	}
	entity := &WorkflowObjectEntity{
		ObjectID:    subject.GetID(),
		WorkflowID:  proc.workflow.ID,
		StateID:     node.ID,
		StateNumber: node.Number,
		Comment:     req.Comment,
		Active:      active,
	}
	if err := subject.BeforeStateCreation(ctx, entity); err != nil {
		return nil, errors.WithMessagef(err, "BeforeStateCreation failed, number: %d", node.Number)
	}
	po, err := s.repo.CreateWorkflowObject(ctx, &WorkflowObjectPo{
		ObjectID:    entity.ObjectID,
		WorkflowID:  entity.WorkflowID,
		StateID:     entity.StateID,
		StateNumber: entity.StateNumber,
		Comment:     entity.Comment,
		Active:      entity.Active,
		Score:       entity.Score,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateWorkflowObject failed, number: %d", node.Number)
	}
	entity = objectPoToEntity(po)
	if !req.Raw {
		// raw模式跳过转移副作用,只落一条记录
		if err := proc.applyTransition(ctx, node, entity.ID); err != nil {
			return nil, err
		}
	}
	if err := subject.AfterStateCreated(ctx, entity); err != nil {
		return nil, errors.WithMessagef(err, "AfterStateCreated failed, number: %d", node.Number)
	}
	if entity.Active {
		if err := subject.AfterStateActivated(ctx, entity); err != nil {
			return nil, errors.WithMessagef(err, "AfterStateActivated failed, number: %d", node.Number)
		}
	}
	return entity, nil
}

// validateStateCreation 创建前校验: 节点归属公司 + is_allowed
func (s *WorkflowServiceImpl) validateStateCreation(ctx context.Context, proc *workflowProcess, node *WorkflowNodeEntity) error {
	if proc.subject.GetID() == "" {
		return errors.Wrap(ErrValidation, "object id is empty")
	}
	companyID := proc.subject.GetClosestCompanyID()
	if node.CompanyID != companyID && node.CompanyID != s.systemCompanyID {
		return errors.Wrap(ErrValidation, "This state is not available for current object.")
	}
	if !proc.isAllowed(ctx, node) {
		messages := proc.requiredMessages(ctx, node, true)
		return errors.Wrapf(ErrValidation, "State creation is not allowed. %s", strings.Join(messages, " "))
	}
	return nil
}

/**
 * @description: 翻转业务对象某个状态号最近一条记录的active标记
 *				 和CreateState一样上锁走事务,翻转之后执行对应方向的二级钩子
 * @param ctx context.Context
 * @param subject WorkflowSubject
 * @param number int64
 * @param active bool
 * @return error
 */
func (s *WorkflowServiceImpl) SetStateActive(ctx context.Context, subject WorkflowSubject, number int64, active bool) error {
	if subject == nil {
		return errors.Wrap(ErrWorkflowParamInvalid, "subject is nil")
	}
	err := s.executeLock.NonBlockingSynchronized(ctx, stateOpLockKey(subject.GetWorkflowModel(), subject.GetID()), stateOpLockMaxDuration, func(ctx context.Context) error {
		return s.repo.Transaction(ctx, func(ctx context.Context) error {
			return s.setStateActiveInTransaction(ctx, subject, number, active)
		})
	})
	if err != nil {
		return errors.WithMessagef(err, "SetStateActive failed, model: %s, objectID: %s, number: %d, active: %v",
			subject.GetWorkflowModel(), subject.GetID(), number, active)
	}
	return nil
}

func (s *WorkflowServiceImpl) setStateActiveInTransaction(ctx context.Context, subject WorkflowSubject, number int64, active bool) error {
	proc, err := s.newWorkflowProcess(ctx, subject)
	if err != nil {
		return err
	}
	objectID := subject.GetID()
	pos, err := s.repo.QueryWorkflowObject(ctx, &QueryWorkflowObjectParams{
		ObjectID:          &objectID,
		WorkflowID:        &proc.workflow.ID,
		StateNumberIn:     []int64{number},
		Active:            Bool(!active),
		OrderbyCreatedAsc: Bool(false),
		Page: &Pager{
			Page: 1,
			Size: 1,
		},
	})
	if err != nil {
		return errors.WithMessagef(err, "QueryWorkflowObject failed, objectID: %s", objectID)
	}
	if len(pos) == 0 {
		return errors.WithMessagef(ErrWorkflowObjectNotFound, "workflow object not found, objectID: %s, number: %d, active: %v",
			objectID, number, !active)
	}
	target := pos[0]
	err = s.repo.UpdateWorkflowObject(ctx, &UpdateWorkflowObjectParams{
		Where: &UpdateWorkflowObjectWhere{
			IDIn: []string{target.ID},
		},
		Fields: &UpdateWorkflowObjectField{
			Active: Bool(active),
		},
		LimitMax: 1,
	})
	if err != nil {
		return errors.WithMessagef(err, "UpdateWorkflowObject failed, objectID: %s", objectID)
	}
	node, err := s.getNodeByID(ctx, target.StateID)
	if err != nil {
		return err
	}
	if active {
		entity := objectPoToEntity(target)
		entity.Active = true
		if err := subject.AfterStateActivated(ctx, entity); err != nil {
			return errors.WithMessagef(err, "AfterStateActivated failed, number: %d", number)
		}
		return proc.activeTrueWorkflow(ctx, node, target.ID)
	}
	return proc.activeFalseWorkflow(ctx, node)
}
