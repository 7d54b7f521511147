package workflow

import "context"

// WorkflowEntity 工作流定义entity
type WorkflowEntity struct {
	ID        string
	Name      string
	Model     string
	CreatedAt int64
	UpdatedAt int64
}

// WorkflowNodeEntity 工作流节点entity,Rules是解析后的类型化规则树
type WorkflowNodeEntity struct {
	ID                   string
	WorkflowID           string
	CompanyID            string
	Number               int64
	FullPath             string
	NameBeforeActivation string
	NameAfterActivation  string
	Active               bool
	Rules                *NodeRules
	Hardlock             bool
	Initial              bool
	ParentID             string
	Order                int64
}

// WorkflowObjectEntity 状态实例entity,追加式日志,创建后只有active会变
type WorkflowObjectEntity struct {
	ID          string
	ObjectID    string
	WorkflowID  string
	StateID     string
	StateNumber int64
	Comment     string
	Active      bool
	Score       int64
	CreatedAt   int64
}

// StateChoice 过滤器选项: 状态号和展示名
type StateChoice struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}

type CreateWorkflowReq struct {
	Name  string `validate:"required"` // 工作流名称
	Model string `validate:"required"` // 绑定的业务对象类型,一种类型只能有一个工作流
}

type CreateWorkflowNodeReq struct {
	WorkflowID           string `validate:"required"`
	CompanyID            string `validate:"required"`
	Number               int64  `validate:"gt=0"`
	NameBeforeActivation string `validate:"required"`
	NameAfterActivation  string
	Active               *bool // 默认true
	Rules                *NodeRules
	Hardlock             bool
	Initial              bool
	ParentID             string // 父节点,full_path按父链生成
	Order                int64
}

type UpdateWorkflowNodeReq struct {
	NodeID               string `validate:"required"`
	Number               *int64
	NameBeforeActivation *string
	NameAfterActivation  *string
	Active               *bool
	Rules                *NodeRules
	Order                *int64
}

type CreateStateReq struct {
	Number  int64 `validate:"gt=0"` // 状态号
	Comment string
	Active  *bool // 默认true
	// Raw 数据修复/fixture导入旁路: 跳过is_allowed校验和转移副作用
	Raw bool
}

type WorkflowService interface {
	/**
	 * @description: 创建工作流定义,一种业务对象类型只能绑定一个工作流
	 * @param ctx context.Context
	 * @param req *CreateWorkflowReq
	 * @return *WorkflowEntity, error
	 */
	CreateWorkflow(ctx context.Context, req *CreateWorkflowReq) (*WorkflowEntity, error)
	/**
	 * @description: 按业务对象类型查工作流定义,没有返回ErrWorkflowNotFound
	 * @param ctx context.Context
	 * @param model string
	 * @return *WorkflowEntity, error
	 */
	GetWorkflowByModel(ctx context.Context, model string) (*WorkflowEntity, error)
	/**
	 * @description: 创建工作流节点,走完整的节点校验
	 *				 (company, workflow, number)唯一 / 系统节点hardlock约束
	 * @param ctx context.Context
	 * @param req *CreateWorkflowNodeReq
	 * @return *WorkflowNodeEntity, error
	 */
	CreateWorkflowNode(ctx context.Context, req *CreateWorkflowNodeReq) (*WorkflowNodeEntity, error)
	/**
	 * @description: 编辑工作流节点,改号会检查hardlock和其他节点规则的引用
	 * @param ctx context.Context
	 * @param req *UpdateWorkflowNodeReq
	 * @return *WorkflowNodeEntity, error
	 */
	UpdateWorkflowNode(ctx context.Context, req *UpdateWorkflowNodeReq) (*WorkflowNodeEntity, error)
	/**
	 * @description: 解析公司视角下的有效节点集
	 *				 系统公司看自己的active节点;其他公司自己的节点按number覆盖系统节点
	 *				 返回按 (order, number) 升序
	 * @param ctx context.Context
	 * @param companyID string
	 * @param workflowID string
	 * @return []*WorkflowNodeEntity, error
	 */
	GetCompanyNodes(ctx context.Context, companyID string, workflowID string) ([]*WorkflowNodeEntity, error)
	/**
	 * @description: 该业务对象类型下所有节点的状态号选项,按number去重
	 *				 label取name_after_activation,为空取name_before_activation
	 * @param ctx context.Context
	 * @param model string
	 * @return []*StateChoice, error
	 */
	GetModelAllStates(ctx context.Context, model string) ([]*StateChoice, error)
	/**
	 * @description: 判断业务对象是否可以进入某个状态
	 *				 状态已active返回false;否则按节点rules的
	 *				 required_states/required_functions求值
	 * @param ctx context.Context
	 * @param subject WorkflowSubject
	 * @param number int64
	 * @return bool, error
	 */
	IsAllowed(ctx context.Context, subject WorkflowSubject, number int64) (bool, error)
	/**
	 * @description: 给业务对象创建状态,整个转移在一把锁和一个事务里面执行
	 *				 节点按最近公司解析,找不到回退系统公司;都找不到时不报错,
	 *				 返回(nil, nil)并打warn日志,这是历史行为,fixture导入依赖它
	 * @param ctx context.Context
	 * @param subject WorkflowSubject
	 * @param req *CreateStateReq
	 * @return *WorkflowObjectEntity, error
	 */
	CreateState(ctx context.Context, subject WorkflowSubject, req *CreateStateReq) (*WorkflowObjectEntity, error)
	/**
	 * @description: 业务对象当前active的状态记录,按 state_number desc, created_at desc
	 * @param ctx context.Context
	 * @param subject WorkflowSubject
	 * @return []*WorkflowObjectEntity, error
	 */
	GetActiveStates(ctx context.Context, subject WorkflowSubject) ([]*WorkflowObjectEntity, error)
	/**
	 * @description: 业务对象最近一次进入的状态节点,没有记录返回nil
	 * @param ctx context.Context
	 * @param subject WorkflowSubject
	 * @return *WorkflowNodeEntity, error
	 */
	GetCurrentState(ctx context.Context, subject WorkflowSubject) (*WorkflowNodeEntity, error)
	/**
	 * @description: 业务对象是否有某个状态号的active记录
	 * @param ctx context.Context
	 * @param subject WorkflowSubject
	 * @param number int64
	 * @return bool, error
	 */
	HasState(ctx context.Context, subject WorkflowSubject, number int64) (bool, error)
	/**
	 * @description: 业务对象当前可创建的状态列表
	 *				 自己公司和系统公司的节点按number合并(自己公司优先),
	 *				 过滤掉已active和is_allowed不通过的,按number升序
	 * @param ctx context.Context
	 * @param subject WorkflowSubject
	 * @return []*WorkflowNodeEntity, error
	 */
	GetAvailableStatesForCreation(ctx context.Context, subject WorkflowSubject) ([]*WorkflowNodeEntity, error)
	/**
	 * @description: 目标状态不可进入时的提示消息列表
	 *				 已active返回["State is already active"];
	 *				 否则对required_functions(总是)和required_states(requireStates为true时)
	 *				 生成"{未满足条件} {is|are} required."
	 * @param ctx context.Context
	 * @param subject WorkflowSubject
	 * @param number int64
	 * @param requireStates bool
	 * @return []string, error
	 */
	GetRequiredMessages(ctx context.Context, subject WorkflowSubject, number int64, requireStates bool) ([]string, error)
	/**
	 * @description: GetRequiredMessages拼成一条消息
	 * @param ctx context.Context
	 * @param subject WorkflowSubject
	 * @param number int64
	 * @return string, error
	 */
	GetRequiredMessage(ctx context.Context, subject WorkflowSubject, number int64) (string, error)
	/**
	 * @description: 翻转某个状态记录的active标记并执行二级钩子
	 *				 激活: 按该节点rules.active白名单取消激活其他状态
	 *				 取消激活: 重新激活该节点rules.inactive列的状态号
	 * @param ctx context.Context
	 * @param subject WorkflowSubject
	 * @param number int64
	 * @param active bool
	 * @return error
	 */
	SetStateActive(ctx context.Context, subject WorkflowSubject, number int64, active bool) error
}

// WorkflowServiceImpl 工作流服务
// systemCompanyID 是系统(master)公司,它的节点是全局默认,可被各公司按number覆盖
type WorkflowServiceImpl struct {
	repo            WorkflowRepo
	executeLock     WorkflowLock
	systemCompanyID string
}

func NewWorkflowService(repo WorkflowRepo, executeLock WorkflowLock, systemCompanyID string) WorkflowService {
	return &WorkflowServiceImpl{repo: repo, executeLock: executeLock, systemCompanyID: systemCompanyID}
}
