package workflow

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Rule 规则树的节点,显式的tagged union
// 持久化里面是松散的JSON(int/str/list),加载时统一转成类型化的规则树,
// 后面的求值和消息生成不再需要对原始数据做类型分支
type Rule interface {
	isRule()
}

// StateRule 状态号条件: 该状态号当前active则为true
type StateRule struct {
	Number int64
}

// FunctionRule 函数条件: 业务对象注册的布尔函数返回true则为true
// 函数没有注册时按false处理,函数是按业务对象类型可选注册的
type FunctionRule struct {
	Name string
}

// AndRule 与组合
type AndRule struct {
	Rules []Rule
}

// OrRule 或组合
type OrRule struct {
	Rules []Rule
}

func (StateRule) isRule()    {}
func (FunctionRule) isRule() {}
func (AndRule) isRule()      {}
func (OrRule) isRule()       {}

// NodeRules 节点rules字段的类型化形式
// RequiredStates/RequiredFunctions 为nil表示没有该项条件,恒为true
type NodeRules struct {
	RequiredStates    Rule
	RequiredFunctions Rule
	Active            []int64
	Actions           []string
	Inactive          []int64
}

// ParseRule 把松散的JSON值转成规则树
// 规则格式:
//   - 数字: 状态号条件
//   - 字符串: 函数条件
//   - 列表: 第一个元素是"or"/"and"时按该符号组合剩余元素,否则整个列表按and组合
//   - nil: 无条件,恒为true
func ParseRule(raw any) (Rule, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case float64:
		return StateRule{Number: int64(v)}, nil
	case int:
		return StateRule{Number: int64(v)}, nil
	case int64:
		return StateRule{Number: v}, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, errors.Wrapf(ErrRuleInvalid, "rule number invalid: %v", v)
		}
		return StateRule{Number: n}, nil
	case string:
		if v == RuleSignOr || v == RuleSignAnd {
			return nil, errors.Wrapf(ErrRuleInvalid, "bare sign %q is not a rule", v)
		}
		return FunctionRule{Name: v}, nil
	case []any:
		return parseListRule(v)
	default:
		return nil, errors.Wrapf(ErrRuleInvalid, "unsupported rule value: %v", raw)
	}
}

func parseListRule(items []any) (Rule, error) {
	sign := RuleSignAnd
	children := items
	if len(items) > 0 {
		if s, ok := items[0].(string); ok && (s == RuleSignOr || s == RuleSignAnd) {
			sign = s
			children = items[1:]
		}
	}
	rules := make([]Rule, 0, len(children))
	for _, item := range children {
		rule, err := ParseRule(item)
		if err != nil {
			return nil, err
		}
		if rule == nil {
			continue
		}
		rules = append(rules, rule)
	}
	if sign == RuleSignOr {
		return OrRule{Rules: rules}, nil
	}
	return AndRule{Rules: rules}, nil
}

// ParseNodeRules 解析节点的rules JSON,rules为空返回nil
func ParseNodeRules(raw []byte) (*NodeRules, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	rawMap := make(map[string]any)
	if err := json.Unmarshal(raw, &rawMap); err != nil {
		return nil, errors.Wrapf(ErrRuleInvalid, "unmarshal rules failed: %v", err)
	}
	if len(rawMap) == 0 {
		return nil, nil
	}
	ret := &NodeRules{}
	if v, ok := rawMap[RuleKeyRequiredStates]; ok {
		rule, err := ParseRule(v)
		if err != nil {
			return nil, errors.WithMessage(err, "parse required_states failed")
		}
		ret.RequiredStates = rule
	}
	if v, ok := rawMap[RuleKeyRequiredFunctions]; ok {
		rule, err := ParseRule(v)
		if err != nil {
			return nil, errors.WithMessage(err, "parse required_functions failed")
		}
		ret.RequiredFunctions = rule
	}
	var err error
	if ret.Active, err = parseNumberList(rawMap, RuleKeyActive); err != nil {
		return nil, err
	}
	if ret.Inactive, err = parseNumberList(rawMap, RuleKeyInactive); err != nil {
		return nil, err
	}
	if v, ok := rawMap[RuleKeyActions]; ok {
		items, ok := v.([]any)
		if !ok {
			return nil, errors.Wrapf(ErrRuleInvalid, "%s is not a list: %v", RuleKeyActions, v)
		}
		for _, item := range items {
			name, ok := item.(string)
			if !ok {
				return nil, errors.Wrapf(ErrRuleInvalid, "action name is not a string: %v", item)
			}
			ret.Actions = append(ret.Actions, name)
		}
	}
	return ret, nil
}

func parseNumberList(rawMap map[string]any, key RuleKey) ([]int64, error) {
	v, ok := rawMap[key]
	if !ok {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, errors.Wrapf(ErrRuleInvalid, "%s is not a list: %v", key, v)
	}
	numbers := make([]int64, 0, len(items))
	for _, item := range items {
		n, ok := item.(float64)
		if !ok {
			return nil, errors.Wrapf(ErrRuleInvalid, "%s contains non-number: %v", key, item)
		}
		numbers = append(numbers, int64(n))
	}
	return numbers, nil
}

// ToBytes 规则序列化回JSON,给存储层使用
func (r *NodeRules) ToBytes() ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	rawMap := make(map[string]any)
	if r.RequiredStates != nil {
		rawMap[RuleKeyRequiredStates] = ruleToRaw(r.RequiredStates)
	}
	if r.RequiredFunctions != nil {
		rawMap[RuleKeyRequiredFunctions] = ruleToRaw(r.RequiredFunctions)
	}
	if r.Active != nil {
		rawMap[RuleKeyActive] = r.Active
	}
	if r.Actions != nil {
		rawMap[RuleKeyActions] = r.Actions
	}
	if r.Inactive != nil {
		rawMap[RuleKeyInactive] = r.Inactive
	}
	if len(rawMap) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(rawMap)
	if err != nil {
		return nil, errors.Wrapf(ErrRuleInvalid, "marshal rules failed: %v", err)
	}
	return b, nil
}

func ruleToRaw(rule Rule) any {
	switch r := rule.(type) {
	case StateRule:
		return r.Number
	case FunctionRule:
		return r.Name
	case AndRule:
		items := make([]any, 0, len(r.Rules)+1)
		items = append(items, RuleSignAnd)
		for _, child := range r.Rules {
			items = append(items, ruleToRaw(child))
		}
		return items
	case OrRule:
		items := make([]any, 0, len(r.Rules)+1)
		items = append(items, RuleSignOr)
		for _, child := range r.Rules {
			items = append(items, ruleToRaw(child))
		}
		return items
	}
	return nil
}

// ReferencedStates 收集required_states规则树里面引用的所有状态号
// 节点改号时用来检查是否有其他节点的规则还引用旧号
func (r *NodeRules) ReferencedStates() []int64 {
	if r == nil || r.RequiredStates == nil {
		return nil
	}
	return collectStates(r.RequiredStates)
}

func collectStates(rule Rule) []int64 {
	switch v := rule.(type) {
	case StateRule:
		return []int64{v.Number}
	case AndRule:
		ret := make([]int64, 0)
		for _, child := range v.Rules {
			ret = append(ret, collectStates(child)...)
		}
		return ret
	case OrRule:
		ret := make([]int64, 0)
		for _, child := range v.Rules {
			ret = append(ret, collectStates(child)...)
		}
		return ret
	}
	return nil
}

// ruleContext 规则求值的上下文
// activeNumbers: 业务对象当前active的状态号集合
// checkFunction: 函数条件的求值回调,找不到函数返回false
// stateName: 状态号到展示名的映射,消息生成使用,找不到回退到数字本身
type ruleContext struct {
	activeNumbers map[int64]struct{}
	checkFunction func(name string) bool
	stateName     func(number int64) string
}

// checkRule 递归求值规则树,nil规则恒为true
func checkRule(rule Rule, rctx *ruleContext) bool {
	switch v := rule.(type) {
	case nil:
		return true
	case StateRule:
		_, ok := rctx.activeNumbers[v.Number]
		return ok
	case FunctionRule:
		return rctx.checkFunction(v.Name)
	case AndRule:
		for _, child := range v.Rules {
			if !checkRule(child, rctx) {
				return false
			}
		}
		return true
	case OrRule:
		for _, child := range v.Rules {
			if checkRule(child, rctx) {
				return true
			}
		}
		// 空的or组合没有可满足的分支
		return false
	}
	return true
}

// ruleMessage 生成未满足条件的描述,已满足的子树贡献空串并被过滤掉
// 函数条件的展示名通过functionName回调取,注册时可以带描述
func ruleMessage(rule Rule, rctx *ruleContext, functionName func(name string) string) string {
	switch v := rule.(type) {
	case nil:
		return ""
	case StateRule:
		if _, ok := rctx.activeNumbers[v.Number]; ok {
			return ""
		}
		if rctx.stateName != nil {
			return rctx.stateName(v.Number)
		}
		return strconv.FormatInt(v.Number, 10)
	case FunctionRule:
		if rctx.checkFunction(v.Name) {
			return ""
		}
		return functionName(v.Name)
	case AndRule:
		return joinRuleMessages(v.Rules, " and ", rctx, functionName)
	case OrRule:
		return joinRuleMessages(v.Rules, " or ", rctx, functionName)
	}
	return ""
}

func joinRuleMessages(rules []Rule, sep string, rctx *ruleContext, functionName func(name string) string) string {
	parts := make([]string, 0, len(rules))
	for _, rule := range rules {
		part := ruleMessage(rule, rctx, functionName)
		if part == "" {
			continue
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, sep)
}
