package workflow

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// 指针辅助函数,构造Query/Update参数用
func String(s string) *string { return &s }
func Bool(b bool) *bool       { return &b }
func Int64(i int64) *int64    { return &i }

var validatorUtil = validator.New()

var (
	// ErrValidation 业务校验错误的根error,所有校验失败都会wrap它
	// 调用方用 errors.Is(err, ErrValidation) 判断,翻译成用户提示,不重试
	ErrValidation = errors.New("validation error")

	ErrWorkflowParamInvalid   = errors.New("workflow param invalid")
	ErrWorkflowNotFound       = errors.New("workflow not found")
	ErrWorkflowNodeNotFound   = errors.New("workflow node not found")
	ErrWorkflowObjectNotFound = errors.New("workflow object not found")
	// ErrRuleInvalid 规则树解析失败,规则数据格式不对
	// 场景&应用: 节点rules字段是历史数据或者人工改过,加载时需要兜底
	ErrRuleInvalid = errors.New("workflow rule invalid")
)

// RuleKey 节点rules字段里面的key
type RuleKey = string

const (
	// RuleKeyRequiredStates 创建状态的前置状态条件
	RuleKeyRequiredStates RuleKey = "required_states"
	// RuleKeyRequiredFunctions 创建状态的前置函数条件,和required_states独立
	RuleKeyRequiredFunctions RuleKey = "required_functions"
	// RuleKeyActive 转移后保持active的状态号白名单,不在名单内的active状态会被置为inactive
	RuleKeyActive RuleKey = "active"
	// RuleKeyActions 转移后执行的动作名列表
	RuleKeyActions RuleKey = "actions"
	// RuleKeyInactive 本状态被取消激活时,需要重新激活的状态号列表
	RuleKeyInactive RuleKey = "inactive"
)

// RuleSign 规则列表的组合符号
type RuleSign = string

const (
	RuleSignAnd RuleSign = "and"
	RuleSignOr  RuleSign = "or"
)

// 状态转移操作的锁最大持有时间,一个业务对象的转移串行处理
const stateOpLockMaxDuration = 10 * time.Minute

// stateOpLockKey 锁key按 (model, object_id) 生成
func stateOpLockKey(model string, objectID string) string {
	return "workflow_state_op_" + model + "_" + objectID
}

// IsValidationError 判断是否是业务校验错误
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrValidation)
}
