// Package tests 是 tenant-workflow 的内部测试模块。
//
// ⚠️ 重要提示：此包位于 internal/ 目录下，受 Go 编译器保护，
// 外部项目无法导入（会得到编译错误）。
//
// 📋 测试内容
//
// 此模块包含以下测试：
//   - 工作流定义和节点的创建、编辑、校验测试
//   - 公司节点覆盖系统节点的解析测试
//   - hardlock 节点和改号防护测试
//   - 状态生命周期集成测试（创建、转移副作用、启停联动）
//   - 提示消息生成测试
//   - 生命周期钩子测试
//
// 🚀 运行测试
//
// 在项目根目录：
//
//	cd internal/tests
//	go test ./...
//
// 查看覆盖率：
//
//	go test -coverprofile=coverage.out -coverpkg=github.com/blingmoon/tenant-workflow/workflow ./...
//	go tool cover -html=coverage.out
package tests
