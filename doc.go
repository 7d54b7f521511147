// Package workflow 提供多租户可覆盖的状态工作流引擎。
//
// 业务对象(候选人、公司关系、订单等)的生命周期被建模成一组带编号的状态节点，
// 系统(master)公司维护一套全局默认节点，各公司可以按状态号覆盖其中的节点，
// 对象每进入一个状态追加一条状态记录，形成完整的状态历史。
//
// 主要特性：
//   - 多租户覆盖：公司节点按 number 覆盖系统节点，hardlock 节点不可篡改
//   - 规则引擎：required_states / required_functions 支持 and/or 嵌套组合
//   - 转移副作用：active 白名单取消激活旧状态，actions 触发注册的业务动作
//   - 数据持久化：支持 GORM，可使用 MySQL、PostgreSQL、SQLite 等数据库
//   - 并发安全：同一业务对象的状态操作串行化，支持本地锁和分布式锁（Redis）
//   - 生命周期钩子：状态创建前后、激活后的回调挂在业务对象上
//
// 基础使用示例:
//
//	package main
//
//	import (
//	    "context"
//
//	    "github.com/blingmoon/tenant-workflow/workflow"
//	    "gorm.io/driver/sqlite"
//	    "gorm.io/gorm"
//	)
//
//	type Candidate struct {
//	    workflow.BaseWorkflowSubject
//	    ID        string
//	    CompanyID string
//	}
//
//	func (c *Candidate) GetID() string               { return c.ID }
//	func (c *Candidate) GetClosestCompanyID() string { return c.CompanyID }
//	func (c *Candidate) GetWorkflowModel() string    { return "candidate" }
//
//	func main() {
//	    // 1. 初始化数据库
//	    db, _ := gorm.Open(sqlite.Open("workflow.db"), &gorm.Config{})
//	    db.AutoMigrate(&workflow.WorkflowPo{}, &workflow.WorkflowNodePo{}, &workflow.WorkflowObjectPo{})
//
//	    // 2. 创建工作流服务,systemCompanyID是系统公司
//	    repo := workflow.NewWorkflowRepo(db)
//	    lock := workflow.NewLocalWorkflowLock()
//	    service := workflow.NewWorkflowService(repo, lock, "system-company-id")
//
//	    // 3. 定义工作流和系统默认节点
//	    ctx := context.Background()
//	    wf, _ := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
//	        Name:  "候选人招聘流程",
//	        Model: "candidate",
//	    })
//	    service.CreateWorkflowNode(ctx, &workflow.CreateWorkflowNodeReq{
//	        WorkflowID:           wf.ID,
//	        CompanyID:            "system-company-id",
//	        Number:               10,
//	        NameBeforeActivation: "New",
//	        Initial:              true,
//	    })
//	    service.CreateWorkflowNode(ctx, &workflow.CreateWorkflowNodeReq{
//	        WorkflowID:           wf.ID,
//	        CompanyID:            "system-company-id",
//	        Number:               20,
//	        NameBeforeActivation: "Interview",
//	        Rules: &workflow.NodeRules{
//	            RequiredStates: workflow.StateRule{Number: 10},
//	            Active:         []int64{20},
//	        },
//	    })
//
//	    // 4. 推进业务对象状态
//	    candidate := &Candidate{ID: "candidate-001", CompanyID: "acme-id"}
//	    service.CreateState(ctx, candidate, &workflow.CreateStateReq{Number: 10})
//	    service.CreateState(ctx, candidate, &workflow.CreateStateReq{Number: 20})
//	}
//
// 规则树:
//
// 节点的rules是一棵条件树，required_states引用状态号，required_functions引用
// 注册过的谓词函数，列表默认and组合，首元素写"or"/"and"可以显式指定组合方式：
//
//	{"required_states": ["or", 20, 30], "required_functions": ["has_contact"], "active": [40]}
//
// 谓词函数按(model, name)注册：
//
//	workflow.RegisterWorkflowFunction("candidate", "has_contact", "Has contact info",
//	    func(ctx context.Context, subject workflow.WorkflowSubject) bool {
//	        return true
//	    },
//	)
//
// 条件不满足时CreateState返回校验错误，错误消息可以直接透出给前端：
//
//	State creation is not allowed. Interview or Offer are required.
//
// 更多示例和文档请访问: https://github.com/blingmoon/tenant-workflow
package workflow
