package tests

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/blingmoon/tenant-workflow/workflow"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// activeStateNumbers 当前active的状态号,方便断言
func activeStateNumbers(t *testing.T, service workflow.WorkflowService, subject workflow.WorkflowSubject) []int64 {
	t.Helper()
	states, err := service.GetActiveStates(context.Background(), subject)
	require.NoError(t, err)
	numbers := make([]int64, 0, len(states))
	for _, state := range states {
		numbers = append(numbers, state.StateNumber)
	}
	return numbers
}

// TestStateLifecycle 测试业务对象走完整的状态生命周期
func TestStateLifecycle(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	model := "candidate_life"

	var hasResume atomic.Bool
	require.NoError(t, workflow.RegisterWorkflowFunction(model, "has_resume", "Resume",
		func(ctx context.Context, subject workflow.WorkflowSubject) bool {
			return hasResume.Load()
		},
	))
	var notified atomic.Int64
	require.NoError(t, workflow.RegisterWorkflowAction(model, "notify_recruiter",
		func(ctx context.Context, subject workflow.WorkflowSubject) error {
			notified.Add(1)
			return nil
		},
	))

	wf, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
		Name:  "候选人生命周期",
		Model: model,
	})
	require.NoError(t, err)
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID:           wf.ID,
		CompanyID:            systemCompanyID,
		Number:               10,
		NameBeforeActivation: "New",
		Initial:              true,
	})
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID:           wf.ID,
		CompanyID:            systemCompanyID,
		Number:               20,
		NameBeforeActivation: "Interviewing",
		NameAfterActivation:  "Interviewed",
		Rules: &workflow.NodeRules{
			RequiredStates:    workflow.StateRule{Number: 10},
			RequiredFunctions: workflow.FunctionRule{Name: "has_resume"},
			Active:            []int64{20},
			Actions:           []string{"notify_recruiter"},
		},
	})

	candidate := &testSubject{id: "candidate-001", companyID: "acme", model: model}

	t.Run("进入初始状态", func(t *testing.T) {
		obj, err := service.CreateState(ctx, candidate, &workflow.CreateStateReq{Number: 10, Comment: "imported"})
		require.NoError(t, err)
		require.NotNil(t, obj)
		assert.True(t, obj.Active)
		assert.Equal(t, "imported", obj.Comment)

		assert.Equal(t, []int64{10}, activeStateNumbers(t, service, candidate))
		current, err := service.GetCurrentState(ctx, candidate)
		require.NoError(t, err)
		assert.Equal(t, int64(10), current.Number)

		has, err := service.HasState(ctx, candidate, 10)
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("条件不满足时拒绝进入", func(t *testing.T) {
		allowed, err := service.IsAllowed(ctx, candidate, 20)
		require.NoError(t, err)
		assert.False(t, allowed)

		_, err = service.CreateState(ctx, candidate, &workflow.CreateStateReq{Number: 20})
		require.Error(t, err)
		assert.True(t, workflow.IsValidationError(err))
		assert.Contains(t, err.Error(), "State creation is not allowed.")
		assert.Contains(t, err.Error(), "Resume is required.")
	})

	t.Run("已active的状态提示已激活", func(t *testing.T) {
		messages, err := service.GetRequiredMessages(ctx, candidate, 10, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"State is already active"}, messages)
	})

	t.Run("条件满足后转移并触发副作用", func(t *testing.T) {
		hasResume.Store(true)

		allowed, err := service.IsAllowed(ctx, candidate, 20)
		require.NoError(t, err)
		assert.True(t, allowed)

		obj, err := service.CreateState(ctx, candidate, &workflow.CreateStateReq{Number: 20})
		require.NoError(t, err)
		require.NotNil(t, obj)

		// active白名单是[20],状态10被取消激活
		assert.Equal(t, []int64{20}, activeStateNumbers(t, service, candidate))
		assert.Equal(t, int64(1), notified.Load())

		current, err := service.GetCurrentState(ctx, candidate)
		require.NoError(t, err)
		assert.Equal(t, int64(20), current.Number)
	})

	t.Run("历史记录不删除,可以重新激活", func(t *testing.T) {
		// 状态10的记录还在,只是active=false
		err := service.SetStateActive(ctx, candidate, 10, true)
		require.NoError(t, err)
		assert.Contains(t, activeStateNumbers(t, service, candidate), int64(10))
	})
}

// TestStateCreationEdgeCases 测试状态创建的边界情况
func TestStateCreationEdgeCases(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	model := "candidate_edge"

	wf, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
		Name:  "边界测试流程",
		Model: model,
	})
	require.NoError(t, err)
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID:           wf.ID,
		CompanyID:            systemCompanyID,
		Number:               10,
		NameBeforeActivation: "New",
	})
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID:           wf.ID,
		CompanyID:            systemCompanyID,
		Number:               20,
		NameBeforeActivation: "Interview",
		Rules: &workflow.NodeRules{
			RequiredStates: workflow.StateRule{Number: 10},
			Active:         []int64{20},
		},
	})

	t.Run("不存在的状态号静默跳过", func(t *testing.T) {
		candidate := &testSubject{id: "candidate-101", companyID: "acme", model: model}
		obj, err := service.CreateState(ctx, candidate, &workflow.CreateStateReq{Number: 99})
		require.NoError(t, err)
		assert.Nil(t, obj)
		assert.Empty(t, activeStateNumbers(t, service, candidate))
	})

	t.Run("没有ID的业务对象被拒绝", func(t *testing.T) {
		candidate := &testSubject{id: "", companyID: "acme", model: model}
		_, err := service.CreateState(ctx, candidate, &workflow.CreateStateReq{Number: 10})
		require.Error(t, err)
		assert.True(t, workflow.IsValidationError(err))
	})

	t.Run("raw模式跳过校验和转移副作用", func(t *testing.T) {
		candidate := &testSubject{id: "candidate-102", companyID: "acme", model: model}
		_, err := service.CreateState(ctx, candidate, &workflow.CreateStateReq{Number: 10})
		require.NoError(t, err)

		// 前置条件没变,raw直接落一条20,并且不触发active白名单的取消激活
		obj, err := service.CreateState(ctx, candidate, &workflow.CreateStateReq{Number: 20, Raw: true})
		require.NoError(t, err)
		require.NotNil(t, obj)
		assert.ElementsMatch(t, []int64{10, 20}, activeStateNumbers(t, service, candidate))
	})

	t.Run("创建inactive的状态记录", func(t *testing.T) {
		candidate := &testSubject{id: "candidate-103", companyID: "acme", model: model}
		obj, err := service.CreateState(ctx, candidate, &workflow.CreateStateReq{
			Number: 10,
			Active: workflow.Bool(false),
		})
		require.NoError(t, err)
		require.NotNil(t, obj)
		assert.False(t, obj.Active)
		assert.Empty(t, activeStateNumbers(t, service, candidate))
	})

	t.Run("没绑定工作流的model报错", func(t *testing.T) {
		candidate := &testSubject{id: "candidate-104", companyID: "acme", model: "unbound_model"}
		_, err := service.CreateState(ctx, candidate, &workflow.CreateStateReq{Number: 10})
		assert.ErrorIs(t, err, workflow.ErrWorkflowNotFound)
	})
}

// TestStateDeactivationAndReactivation 测试active/inactive白名单的联动
func TestStateDeactivationAndReactivation(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	model := "candidate_toggle"

	wf, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
		Name:  "启停测试流程",
		Model: model,
	})
	require.NoError(t, err)
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID:           wf.ID,
		CompanyID:            systemCompanyID,
		Number:               50,
		NameBeforeActivation: "Active",
	})
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID:           wf.ID,
		CompanyID:            systemCompanyID,
		Number:               60,
		NameBeforeActivation: "On hold",
		Rules: &workflow.NodeRules{
			RequiredStates: workflow.StateRule{Number: 50},
			Active:         []int64{60},
			Inactive:       []int64{50},
		},
	})

	rel := &testSubject{id: "rel-001", companyID: "acme", model: model}
	_, err = service.CreateState(ctx, rel, &workflow.CreateStateReq{Number: 50})
	require.NoError(t, err)
	_, err = service.CreateState(ctx, rel, &workflow.CreateStateReq{Number: 60})
	require.NoError(t, err)

	t.Run("进入暂停后只有暂停是active", func(t *testing.T) {
		assert.Equal(t, []int64{60}, activeStateNumbers(t, service, rel))
	})

	t.Run("取消暂停时inactive白名单里的状态被重新激活", func(t *testing.T) {
		err := service.SetStateActive(ctx, rel, 60, false)
		require.NoError(t, err)
		assert.Equal(t, []int64{50}, activeStateNumbers(t, service, rel))
	})

	t.Run("重新暂停时active白名单生效", func(t *testing.T) {
		err := service.SetStateActive(ctx, rel, 60, true)
		require.NoError(t, err)
		assert.Equal(t, []int64{60}, activeStateNumbers(t, service, rel))
	})

	t.Run("没有可翻转的记录报错", func(t *testing.T) {
		err := service.SetStateActive(ctx, rel, 70, true)
		assert.ErrorIs(t, err, workflow.ErrWorkflowObjectNotFound)
	})
}

// TestRequiredMessages 测试不可进入状态的提示消息
func TestRequiredMessages(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	model := "candidate_msg"

	require.NoError(t, workflow.RegisterWorkflowFunction(model, "has_contact", "Has contact info",
		func(ctx context.Context, subject workflow.WorkflowSubject) bool {
			return false
		},
	))

	wf, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
		Name:  "消息测试流程",
		Model: model,
	})
	require.NoError(t, err)
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID: wf.ID, CompanyID: systemCompanyID, Number: 10, NameBeforeActivation: "New",
	})
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID: wf.ID, CompanyID: systemCompanyID, Number: 20, NameBeforeActivation: "Interview",
	})
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID: wf.ID, CompanyID: systemCompanyID, Number: 30, NameBeforeActivation: "Offer",
	})
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID:           wf.ID,
		CompanyID:            systemCompanyID,
		Number:               40,
		NameBeforeActivation: "Hired",
		Rules: &workflow.NodeRules{
			RequiredStates: workflow.OrRule{Rules: []workflow.Rule{
				workflow.StateRule{Number: 20},
				workflow.StateRule{Number: 30},
			}},
			RequiredFunctions: workflow.FunctionRule{Name: "has_contact"},
		},
	})
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID:           wf.ID,
		CompanyID:            systemCompanyID,
		Number:               45,
		NameBeforeActivation: "Onboarding",
		Rules: &workflow.NodeRules{
			RequiredStates: workflow.StateRule{Number: 99},
		},
	})

	candidate := &testSubject{id: "candidate-201", companyID: "acme", model: model}
	_, err = service.CreateState(ctx, candidate, &workflow.CreateStateReq{Number: 10})
	require.NoError(t, err)

	t.Run("or组合生成are句式", func(t *testing.T) {
		messages, err := service.GetRequiredMessages(ctx, candidate, 40, true)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"Has contact info is required.",
			"Interview or Offer are required.",
		}, messages)
	})

	t.Run("requireStates为false时只检查函数条件", func(t *testing.T) {
		messages, err := service.GetRequiredMessages(ctx, candidate, 40, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"Has contact info is required."}, messages)
	})

	t.Run("拼接成一条消息", func(t *testing.T) {
		message, err := service.GetRequiredMessage(ctx, candidate, 40)
		require.NoError(t, err)
		assert.Equal(t, "Has contact info is required. Interview or Offer are required.", message)
	})

	t.Run("满足部分条件后消息收窄", func(t *testing.T) {
		_, err := service.CreateState(ctx, candidate, &workflow.CreateStateReq{Number: 20})
		require.NoError(t, err)

		messages, err := service.GetRequiredMessages(ctx, candidate, 40, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"Has contact info is required."}, messages)
	})

	t.Run("没有节点的状态号用数字本身", func(t *testing.T) {
		messages, err := service.GetRequiredMessages(ctx, candidate, 45, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"99 is required."}, messages)
	})

	t.Run("节点不存在报错", func(t *testing.T) {
		_, err := service.GetRequiredMessages(ctx, candidate, 77, true)
		assert.ErrorIs(t, err, workflow.ErrWorkflowNodeNotFound)
	})
}

// hookedSubject 记录生命周期钩子调用顺序的业务对象
type hookedSubject struct {
	testSubject

	events    []string
	failHook  string
	failError error
}

func (s *hookedSubject) record(hook string, obj *workflow.WorkflowObjectEntity) error {
	s.events = append(s.events, fmt.Sprintf("%s_%d", hook, obj.StateNumber))
	if s.failHook == hook {
		return s.failError
	}
	return nil
}

func (s *hookedSubject) BeforeStateCreation(ctx context.Context, obj *workflow.WorkflowObjectEntity) error {
	return s.record("before", obj)
}

func (s *hookedSubject) AfterStateCreated(ctx context.Context, obj *workflow.WorkflowObjectEntity) error {
	return s.record("created", obj)
}

func (s *hookedSubject) AfterStateActivated(ctx context.Context, obj *workflow.WorkflowObjectEntity) error {
	return s.record("activated", obj)
}

// TestWorkflowHooks 测试生命周期钩子
func TestWorkflowHooks(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	model := "candidate_hook"

	wf, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
		Name:  "钩子测试流程",
		Model: model,
	})
	require.NoError(t, err)
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID: wf.ID, CompanyID: systemCompanyID, Number: 10, NameBeforeActivation: "New",
	})

	t.Run("钩子按创建前-创建后-激活后的顺序执行", func(t *testing.T) {
		subject := &hookedSubject{testSubject: testSubject{id: "candidate-301", companyID: "acme", model: model}}
		_, err := service.CreateState(ctx, subject, &workflow.CreateStateReq{Number: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{"before_10", "created_10", "activated_10"}, subject.events)
	})

	t.Run("创建inactive记录不触发激活钩子", func(t *testing.T) {
		subject := &hookedSubject{testSubject: testSubject{id: "candidate-302", companyID: "acme", model: model}}
		_, err := service.CreateState(ctx, subject, &workflow.CreateStateReq{Number: 10, Active: workflow.Bool(false)})
		require.NoError(t, err)
		assert.Equal(t, []string{"before_10", "created_10"}, subject.events)
	})

	t.Run("创建前钩子报错时整个事务回滚", func(t *testing.T) {
		subject := &hookedSubject{
			testSubject: testSubject{id: "candidate-303", companyID: "acme", model: model},
			failHook:    "before",
			failError:   errors.New("not ready"),
		}
		_, err := service.CreateState(ctx, subject, &workflow.CreateStateReq{Number: 10})
		require.Error(t, err)

		has, err := service.HasState(ctx, subject, 10)
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("SetStateActive激活时触发激活钩子", func(t *testing.T) {
		subject := &hookedSubject{testSubject: testSubject{id: "candidate-304", companyID: "acme", model: model}}
		_, err := service.CreateState(ctx, subject, &workflow.CreateStateReq{Number: 10, Active: workflow.Bool(false)})
		require.NoError(t, err)
		subject.events = nil

		err = service.SetStateActive(ctx, subject, 10, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"activated_10"}, subject.events)
	})
}

// TestAvailableStatesForCreation 测试可创建状态列表
func TestAvailableStatesForCreation(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	model := "candidate_avail"

	wf, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
		Name:  "可用状态测试流程",
		Model: model,
	})
	require.NoError(t, err)
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID: wf.ID, CompanyID: systemCompanyID, Number: 10, NameBeforeActivation: "New", Initial: true,
	})
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID:           wf.ID,
		CompanyID:            systemCompanyID,
		Number:               20,
		NameBeforeActivation: "Interview",
		Rules:                &workflow.NodeRules{RequiredStates: workflow.StateRule{Number: 10}},
	})
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID:           wf.ID,
		CompanyID:            systemCompanyID,
		Number:               30,
		NameBeforeActivation: "Offer",
		Rules:                &workflow.NodeRules{RequiredStates: workflow.StateRule{Number: 20}},
	})

	candidate := &testSubject{id: "candidate-401", companyID: "acme", model: model}

	t.Run("初始只有无前置条件的状态可创建", func(t *testing.T) {
		nodes, err := service.GetAvailableStatesForCreation(ctx, candidate)
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, int64(10), nodes[0].Number)
	})

	t.Run("进入状态后后继状态变为可创建", func(t *testing.T) {
		_, err := service.CreateState(ctx, candidate, &workflow.CreateStateReq{Number: 10})
		require.NoError(t, err)

		nodes, err := service.GetAvailableStatesForCreation(ctx, candidate)
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, int64(20), nodes[0].Number)
	})

	t.Run("公司覆盖节点影响可创建集", func(t *testing.T) {
		// globex放宽30的前置条件,30直接可创建
		mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
			WorkflowID:           wf.ID,
			CompanyID:            "globex",
			Number:               30,
			NameBeforeActivation: "Offer (globex)",
		})
		other := &testSubject{id: "candidate-402", companyID: "globex", model: model}
		_, err := service.CreateState(ctx, other, &workflow.CreateStateReq{Number: 10})
		require.NoError(t, err)

		nodes, err := service.GetAvailableStatesForCreation(ctx, other)
		require.NoError(t, err)
		numbers := make([]int64, 0, len(nodes))
		for _, node := range nodes {
			numbers = append(numbers, node.Number)
		}
		assert.Equal(t, []int64{20, 30}, numbers)
	})
}
