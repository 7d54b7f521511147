package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// WorkflowPo 工作流定义,和一种业务对象类型一对一绑定
type WorkflowPo struct {
	ID        string `gorm:"column:id;primaryKey" json:"id"`
	Name      string `gorm:"column:name" json:"name"`
	Model     string `gorm:"column:model" json:"model"` // 绑定的业务对象类型
	CreatedAt int64  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt int64  `gorm:"column:updated_at" json:"updated_at"`
}

func (WorkflowPo) TableName() string {
	return "workflow"
}

// WorkflowNodePo 工作流节点,按 (company, workflow, number) 唯一
type WorkflowNodePo struct {
	ID                   string `gorm:"column:id;primaryKey"`
	WorkflowID           string `gorm:"column:workflow_id"`
	CompanyID            string `gorm:"column:company_id"`
	Number               int64  `gorm:"column:number"`
	FullPath             string `gorm:"column:full_path"` // 创建时计算一次,parent.full_path.number
	NameBeforeActivation string `gorm:"column:name_before_activation"`
	NameAfterActivation  string `gorm:"column:name_after_activation"`
	Active               bool   `gorm:"column:active"`
	Rules                []byte `gorm:"column:rules"` // 规则树JSON,加载时解析成NodeRules
	Hardlock             bool   `gorm:"column:hardlock"`
	Initial              bool   `gorm:"column:initial"`
	ParentID             string `gorm:"column:parent_id"`
	Order                int64  `gorm:"column:node_order"`
	CreatedAt            int64  `gorm:"column:created_at"`
	UpdatedAt            int64  `gorm:"column:updated_at"`
}

func (WorkflowNodePo) TableName() string {
	return "workflow_node"
}

// WorkflowObjectPo 状态实例记录: 业务对象处于/曾处于某个状态,追加式日志
// workflow_id和state_number是冗余字段,查活跃状态不用join节点表
// 节点改号被校验器拦住了,冗余不会失真
type WorkflowObjectPo struct {
	ID          string `gorm:"column:id;primaryKey"`
	ObjectID    string `gorm:"column:object_id"`
	WorkflowID  string `gorm:"column:workflow_id"`
	StateID     string `gorm:"column:state_id"`
	StateNumber int64  `gorm:"column:state_number"`
	Comment     string `gorm:"column:comment"`
	Active      bool   `gorm:"column:active"`
	Score       int64  `gorm:"column:score"`
	CreatedAt   int64  `gorm:"column:created_at"`
	UpdatedAt   int64  `gorm:"column:updated_at"`
}

func (WorkflowObjectPo) TableName() string {
	return "workflow_object"
}

type QueryWorkflowParams struct {
	WorkflowID *string `json:"workflow_id"`
	Model      *string `json:"model"`
	Page       *Pager  `json:"page"`
}

type Pager struct {
	IsNoLimit *bool `json:"is_no_limit"`
	Page      int64 `json:"page"`
	Size      int64 `json:"size"`
}

type QueryWorkflowNodeParams struct {
	WorkflowNodeID     *string `json:"workflow_node_id"`
	WorkflowID         *string `json:"workflow_id"`
	CompanyID          *string `json:"company_id"`
	Number             *int64  `json:"number"`
	Active             *bool   `json:"active"`
	Hardlock           *bool   `json:"hardlock"`
	OrderbyNumberAsc   *bool   `json:"orderby_number_asc"` // 按 node_order,number 升序
	ExcludeNodeID      *string `json:"exclude_node_id"`
	Page               *Pager  `json:"page"`
}

type QueryWorkflowObjectParams struct {
	WorkflowObjectID  *string `json:"workflow_object_id"`
	ObjectID          *string `json:"object_id"`
	WorkflowID        *string `json:"workflow_id"`
	StateID           *string `json:"state_id"`
	StateNumberIn     []int64 `json:"state_number_in"`
	Active            *bool   `json:"active"`
	OrderbyNumberDesc *bool   `json:"orderby_number_desc"` // 按 state_number desc,created_at desc
	OrderbyCreatedAsc *bool   `json:"orderby_created_asc"`
	Page              *Pager  `json:"page"`
}

type UpdateWorkflowNodeParams struct {
	Where    *UpdateWorkflowNodeWhere `json:"where" validate:"required"`
	Fields   *UpdateWorkflowNodeField `json:"field" validate:"required"`
	LimitMax int                      `json:"limit_max" validate:"required"`
}

type UpdateWorkflowNodeWhere struct {
	IDIn []string `json:"id_in"`
}

type UpdateWorkflowNodeField struct {
	Number               *int64  `json:"number"`
	NameBeforeActivation *string `json:"name_before_activation"`
	NameAfterActivation  *string `json:"name_after_activation"`
	Active               *bool   `json:"active"`
	Rules                []byte  `json:"rules"`
	Order                *int64  `json:"order"`
}

type UpdateWorkflowObjectParams struct {
	Where    *UpdateWorkflowObjectWhere `json:"where" validate:"required"`
	Fields   *UpdateWorkflowObjectField `json:"field" validate:"required"`
	LimitMax int                        `json:"limit_max" validate:"required"`
}

type UpdateWorkflowObjectWhere struct {
	IDIn []string `json:"id_in"`
}

type UpdateWorkflowObjectField struct {
	Active *bool  `json:"active"`
	Score  *int64 `json:"score"`
}

type workflowRepo struct {
	db *gorm.DB
}

func NewWorkflowRepo(db *gorm.DB) WorkflowRepo {
	return &workflowRepo{
		db: db,
	}
}

func (r *workflowRepo) CreateWorkflow(ctx context.Context, workflow *WorkflowPo) (*WorkflowPo, error) {
	if workflow == nil {
		return nil, fmt.Errorf("nil WorkflowPo")
	}
	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}
	workflow.CreatedAt = time.Now().Unix()
	workflow.UpdatedAt = time.Now().Unix()
	if err := r.GetDBWithContext(ctx).Create(workflow).Error; err != nil {
		return nil, errors.WithMessage(err, "CreateWorkflow failed")
	}
	return workflow, nil
}

func (r *workflowRepo) CreateWorkflowNode(ctx context.Context, node *WorkflowNodePo) (*WorkflowNodePo, error) {
	if node == nil {
		return nil, fmt.Errorf("nil WorkflowNodePo")
	}
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	node.CreatedAt = time.Now().Unix()
	node.UpdatedAt = time.Now().Unix()
	if err := r.GetDBWithContext(ctx).Create(node).Error; err != nil {
		return nil, errors.WithMessage(err, "CreateWorkflowNode failed")
	}
	return node, nil
}

func (r *workflowRepo) CreateWorkflowObject(ctx context.Context, object *WorkflowObjectPo) (*WorkflowObjectPo, error) {
	if object == nil {
		return nil, fmt.Errorf("nil WorkflowObjectPo")
	}
	if object.ID == "" {
		object.ID = uuid.NewString()
	}
	// 纳秒时间戳,同一秒内写入多条状态记录也能按创建顺序排序
	object.CreatedAt = time.Now().UnixNano()
	object.UpdatedAt = time.Now().UnixNano()
	if err := r.GetDBWithContext(ctx).Create(object).Error; err != nil {
		return nil, errors.WithMessage(err, "CreateWorkflowObject failed")
	}
	return object, nil
}

func buildQueryWorkflowParams(db *gorm.DB, param *QueryWorkflowParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryWorkflowParams")
	}
	if param.WorkflowID != nil {
		db = db.Where("id = ?", param.WorkflowID)
	}
	if param.Model != nil {
		db = db.Where("model = ?", param.Model)
	}
	return applyPager(db, param.Page)
}

func applyPager(db *gorm.DB, page *Pager) (*gorm.DB, error) {
	if page == nil {
		return nil, errors.New("page is nil")
	}
	if page.IsNoLimit != nil && *page.IsNoLimit {
		// 不分页显式指定了true
		return db, nil
	}
	if page.Page == 0 {
		page.Page = 1
	}
	if page.Size == 0 {
		page.Size = 10
	}
	db = db.Offset(int(page.Page-1) * int(page.Size)).Limit(int(page.Size))
	return db, nil
}

func (r *workflowRepo) QueryWorkflow(ctx context.Context, param *QueryWorkflowParams) ([]*WorkflowPo, error) {
	if param == nil {
		return nil, fmt.Errorf("nil QueryWorkflowParams")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowPo{})
	db, err := buildQueryWorkflowParams(db, param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryWorkflowParams failed")
	}
	pos := make([]*WorkflowPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryWorkflow failed")
	}
	return pos, nil
}

func buildQueryWorkflowNodeParams(db *gorm.DB, param *QueryWorkflowNodeParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryWorkflowNodeParams")
	}
	if param.WorkflowNodeID != nil {
		db = db.Where("id = ?", param.WorkflowNodeID)
	}
	if param.WorkflowID != nil {
		db = db.Where("workflow_id = ?", param.WorkflowID)
	}
	if param.CompanyID != nil {
		db = db.Where("company_id = ?", param.CompanyID)
	}
	if param.Number != nil {
		db = db.Where("number = ?", param.Number)
	}
	if param.Active != nil {
		db = db.Where("active = ?", param.Active)
	}
	if param.Hardlock != nil {
		db = db.Where("hardlock = ?", param.Hardlock)
	}
	if param.ExcludeNodeID != nil {
		db = db.Where("id <> ?", param.ExcludeNodeID)
	}
	if param.OrderbyNumberAsc != nil {
		if *param.OrderbyNumberAsc {
			db = db.Order("node_order asc").Order("number asc")
		} else {
			db = db.Order("node_order desc").Order("number desc")
		}
	}
	return applyPager(db, param.Page)
}

func (r *workflowRepo) QueryWorkflowNode(ctx context.Context, param *QueryWorkflowNodeParams) ([]*WorkflowNodePo, error) {
	if param == nil {
		return nil, fmt.Errorf("nil QueryWorkflowNodeParams")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowNodePo{})
	db, err := buildQueryWorkflowNodeParams(db, param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryWorkflowNodeParams failed")
	}
	pos := make([]*WorkflowNodePo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryWorkflowNode failed")
	}
	return pos, nil
}

func buildQueryWorkflowObjectParams(db *gorm.DB, isCount bool, param *QueryWorkflowObjectParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryWorkflowObjectParams")
	}
	if param.WorkflowObjectID != nil {
		db = db.Where("id = ?", param.WorkflowObjectID)
	}
	if param.ObjectID != nil {
		db = db.Where("object_id = ?", param.ObjectID)
	}
	if param.WorkflowID != nil {
		db = db.Where("workflow_id = ?", param.WorkflowID)
	}
	if param.StateID != nil {
		db = db.Where("state_id = ?", param.StateID)
	}
	if len(param.StateNumberIn) != 0 {
		db = db.Where("state_number IN ?", param.StateNumberIn)
	}
	if param.Active != nil {
		db = db.Where("active = ?", param.Active)
	}
	if !isCount {
		if param.OrderbyNumberDesc != nil && *param.OrderbyNumberDesc {
			db = db.Order("state_number desc").Order("created_at desc")
		}
		if param.OrderbyCreatedAsc != nil {
			if *param.OrderbyCreatedAsc {
				db = db.Order("created_at asc")
			} else {
				db = db.Order("created_at desc")
			}
		}
		return applyPager(db, param.Page)
	}
	return db, nil
}

func (r *workflowRepo) QueryWorkflowObject(ctx context.Context, param *QueryWorkflowObjectParams) ([]*WorkflowObjectPo, error) {
	if param == nil {
		return nil, fmt.Errorf("nil QueryWorkflowObjectParams")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowObjectPo{})
	db, err := buildQueryWorkflowObjectParams(db, false, param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryWorkflowObjectParams failed")
	}
	pos := make([]*WorkflowObjectPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryWorkflowObject failed")
	}
	return pos, nil
}

func (r *workflowRepo) CountWorkflowObject(ctx context.Context, param *QueryWorkflowObjectParams) (int64, error) {
	if param == nil {
		return 0, fmt.Errorf("nil QueryWorkflowObjectParams")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowObjectPo{})
	db, err := buildQueryWorkflowObjectParams(db, true, param)
	if err != nil {
		return 0, errors.WithMessage(err, "buildQueryWorkflowObjectParams failed")
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, errors.WithMessage(err, "CountWorkflowObject failed")
	}
	return count, nil
}

func buildUpdateWorkflowNodeFields(fields *UpdateWorkflowNodeField) (map[string]any, error) {
	updateFields := make(map[string]any)
	if fields.Number != nil {
		updateFields["number"] = *fields.Number
	}
	if fields.NameBeforeActivation != nil {
		updateFields["name_before_activation"] = *fields.NameBeforeActivation
	}
	if fields.NameAfterActivation != nil {
		updateFields["name_after_activation"] = *fields.NameAfterActivation
	}
	if fields.Active != nil {
		updateFields["active"] = *fields.Active
	}
	if fields.Rules != nil {
		updateFields["rules"] = fields.Rules
	}
	if fields.Order != nil {
		updateFields["node_order"] = *fields.Order
	}
	if len(updateFields) == 0 {
		return nil, errors.New("no fields to update")
	}
	updateFields["updated_at"] = time.Now().Unix()
	return updateFields, nil
}

func (r *workflowRepo) UpdateWorkflowNode(ctx context.Context, param *UpdateWorkflowNodeParams) error {
	if param == nil {
		return fmt.Errorf("nil UpdateWorkflowNodeParams")
	}
	if param.Where == nil || len(param.Where.IDIn) == 0 {
		return errors.New("update workflow node need where condition, please check")
	}
	if param.Fields == nil {
		return errors.New("fields is nil")
	}
	updateFields, err := buildUpdateWorkflowNodeFields(param.Fields)
	if err != nil {
		return errors.WithMessage(err, "buildUpdateWorkflowNodeFields failed")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowNodePo{}).Where("id IN ?", param.Where.IDIn)
	if err := db.Updates(updateFields).Limit(param.LimitMax).Error; err != nil {
		return errors.WithMessage(err, "UpdateWorkflowNode failed")
	}
	return nil
}

func buildUpdateWorkflowObjectFields(fields *UpdateWorkflowObjectField) (map[string]any, error) {
	updateFields := make(map[string]any)
	if fields.Active != nil {
		updateFields["active"] = *fields.Active
	}
	if fields.Score != nil {
		updateFields["score"] = *fields.Score
	}
	if len(updateFields) == 0 {
		return nil, errors.New("no fields to update")
	}
	updateFields["updated_at"] = time.Now().UnixNano()
	return updateFields, nil
}

func (r *workflowRepo) UpdateWorkflowObject(ctx context.Context, param *UpdateWorkflowObjectParams) error {
	if param == nil {
		return fmt.Errorf("nil UpdateWorkflowObjectParams")
	}
	if param.Where == nil || len(param.Where.IDIn) == 0 {
		return errors.New("update workflow object need where condition, please check")
	}
	if param.Fields == nil {
		return errors.New("fields is nil")
	}
	updateFields, err := buildUpdateWorkflowObjectFields(param.Fields)
	if err != nil {
		return errors.WithMessage(err, "buildUpdateWorkflowObjectFields failed")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowObjectPo{}).Where("id IN ?", param.Where.IDIn)
	if err := db.Updates(updateFields).Limit(param.LimitMax).Error; err != nil {
		return errors.WithMessage(err, "UpdateWorkflowObject failed")
	}
	return nil
}

type contextKey string

const (
	transactionContextKey contextKey = "transaction"
)

func (r *workflowRepo) GetDBWithContext(ctx context.Context) *gorm.DB {
	tx := ctx.Value(transactionContextKey)
	if tx == nil {
		// 没有事务，直接返回db即可
		return r.db.WithContext(ctx)
	}
	return tx.(*gorm.DB)
}

func (r *workflowRepo) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	ctxTX := ctx.Value(transactionContextKey)
	var err error
	if ctxTX == nil {
		tx := r.db.Begin()
		defer func() {
			if err != nil {
				tx.Rollback()
			} else {
				tx.Commit()
			}
		}()
		newCtx := context.WithValue(ctx, transactionContextKey, tx)
		err = fn(newCtx)
		return err
	}
	return fn(ctx)
}
