package tests

import (
	"context"
	"testing"

	"github.com/blingmoon/tenant-workflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const systemCompanyID = "system-company"

// setupTestService 创建测试服务
func setupTestService(t *testing.T) workflow.WorkflowService {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&workflow.WorkflowPo{}, &workflow.WorkflowNodePo{}, &workflow.WorkflowObjectPo{})
	require.NoError(t, err)

	repo := workflow.NewWorkflowRepo(db)
	lock := workflow.NewLocalWorkflowLock()
	return workflow.NewWorkflowService(repo, lock, systemCompanyID)
}

// testSubject 测试用的业务对象
type testSubject struct {
	workflow.BaseWorkflowSubject

	id        string
	companyID string
	model     string
}

func (s *testSubject) GetID() string {
	return s.id
}

func (s *testSubject) GetClosestCompanyID() string {
	return s.companyID
}

func (s *testSubject) GetWorkflowModel() string {
	return s.model
}

// mustCreateNode 建节点的快捷方式
func mustCreateNode(t *testing.T, service workflow.WorkflowService, req *workflow.CreateWorkflowNodeReq) *workflow.WorkflowNodeEntity {
	t.Helper()
	node, err := service.CreateWorkflowNode(context.Background(), req)
	require.NoError(t, err)
	return node
}

// TestWorkflowDefinition 测试工作流定义的创建和查询
func TestWorkflowDefinition(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	t.Run("创建工作流并按model查询", func(t *testing.T) {
		created, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
			Name:  "候选人招聘流程",
			Model: "candidate_def",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)

		found, err := service.GetWorkflowByModel(ctx, "candidate_def")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
		assert.Equal(t, "候选人招聘流程", found.Name)
	})

	t.Run("同一个model重复创建报错", func(t *testing.T) {
		_, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
			Name:  "另一个流程",
			Model: "candidate_def",
		})
		require.Error(t, err)
		assert.True(t, workflow.IsValidationError(err))
	})

	t.Run("没有绑定工作流的model查询报错", func(t *testing.T) {
		_, err := service.GetWorkflowByModel(ctx, "unknown_model")
		require.Error(t, err)
		assert.ErrorIs(t, err, workflow.ErrWorkflowNotFound)
	})

	t.Run("缺少必填参数报错", func(t *testing.T) {
		_, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{Name: "没有model"})
		assert.ErrorIs(t, err, workflow.ErrWorkflowParamInvalid)
	})
}

// TestWorkflowNodeCreation 测试节点创建和校验
func TestWorkflowNodeCreation(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	wf, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
		Name:  "节点测试流程",
		Model: "candidate_node",
	})
	require.NoError(t, err)

	t.Run("创建系统节点", func(t *testing.T) {
		node := mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
			WorkflowID:           wf.ID,
			CompanyID:            systemCompanyID,
			Number:               10,
			NameBeforeActivation: "New",
			Initial:              true,
		})
		assert.Equal(t, int64(10), node.Number)
		assert.Equal(t, "10", node.FullPath)
		assert.True(t, node.Active)
	})

	t.Run("full_path按父链生成", func(t *testing.T) {
		parent := mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
			WorkflowID:           wf.ID,
			CompanyID:            systemCompanyID,
			Number:               20,
			NameBeforeActivation: "Phone screen",
		})
		child := mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
			WorkflowID:           wf.ID,
			CompanyID:            systemCompanyID,
			Number:               25,
			NameBeforeActivation: "Phone screen follow-up",
			ParentID:             parent.ID,
		})
		assert.Equal(t, "20.25", child.FullPath)
	})

	t.Run("同公司同号重复创建报错", func(t *testing.T) {
		_, err := service.CreateWorkflowNode(ctx, &workflow.CreateWorkflowNodeReq{
			WorkflowID:           wf.ID,
			CompanyID:            systemCompanyID,
			Number:               10,
			NameBeforeActivation: "Duplicate",
		})
		require.Error(t, err)
		assert.True(t, workflow.IsValidationError(err))
		assert.Contains(t, err.Error(), "already exist")
	})

	t.Run("不同公司可以用相同的号", func(t *testing.T) {
		node := mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
			WorkflowID:           wf.ID,
			CompanyID:            "acme",
			Number:               10,
			NameBeforeActivation: "New (acme)",
		})
		assert.Equal(t, "acme", node.CompanyID)
	})

	t.Run("状态号必须大于0", func(t *testing.T) {
		_, err := service.CreateWorkflowNode(ctx, &workflow.CreateWorkflowNodeReq{
			WorkflowID:           wf.ID,
			CompanyID:            systemCompanyID,
			Number:               0,
			NameBeforeActivation: "Bad",
		})
		assert.ErrorIs(t, err, workflow.ErrWorkflowParamInvalid)
	})
}

// TestCompanyNodeResolution 测试公司视角的节点解析,公司节点按number覆盖系统节点
func TestCompanyNodeResolution(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	wf, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
		Name:  "覆盖测试流程",
		Model: "candidate_shadow",
	})
	require.NoError(t, err)

	// 系统节点 10/20/30,acme用自己的20覆盖
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID: wf.ID, CompanyID: systemCompanyID, Number: 10, NameBeforeActivation: "New",
	})
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID: wf.ID, CompanyID: systemCompanyID, Number: 20, NameBeforeActivation: "Interview",
	})
	mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID: wf.ID, CompanyID: systemCompanyID, Number: 30, NameBeforeActivation: "Offer",
	})
	acmeNode := mustCreateNode(t, service, &workflow.CreateWorkflowNodeReq{
		WorkflowID: wf.ID, CompanyID: "acme", Number: 20, NameBeforeActivation: "Interview (acme)",
	})

	t.Run("公司节点覆盖同号系统节点", func(t *testing.T) {
		nodes, err := service.GetCompanyNodes(ctx, "acme", wf.ID)
		require.NoError(t, err)
		require.Len(t, nodes, 3)
		assert.Equal(t, int64(10), nodes[0].Number)
		assert.Equal(t, acmeNode.ID, nodes[1].ID)
		assert.Equal(t, int64(30), nodes[2].Number)
	})

	t.Run("系统公司只看自己的节点", func(t *testing.T) {
		nodes, err := service.GetCompanyNodes(ctx, systemCompanyID, wf.ID)
		require.NoError(t, err)
		require.Len(t, nodes, 3)
		for _, node := range nodes {
			assert.Equal(t, systemCompanyID, node.CompanyID)
		}
	})

	t.Run("没有自定义节点的公司回退系统节点", func(t *testing.T) {
		nodes, err := service.GetCompanyNodes(ctx, "globex", wf.ID)
		require.NoError(t, err)
		require.Len(t, nodes, 3)
		for _, node := range nodes {
			assert.Equal(t, systemCompanyID, node.CompanyID)
		}
	})

	t.Run("GetModelAllStates按number去重", func(t *testing.T) {
		choices, err := service.GetModelAllStates(ctx, "candidate_shadow")
		require.NoError(t, err)
		require.Len(t, choices, 3)
		assert.Equal(t, int64(10), choices[0].Value)
		assert.Equal(t, int64(20), choices[1].Value)
		assert.Equal(t, int64(30), choices[2].Value)
	})
}
