// Package deployment 实现部署任务框架：任务输入解析、部署记录、
// 部署并校验（DeployAndVerify）以及任务注册与执行。
//
// 每个任务以 ID 标识，在单个网络上执行。任务的输入来自
// <tasks>/<id>/input.yaml，按网络名分段；部署结果写入 OutputStore，
// 供后续任务通过 {task, output} 引用。
package deployment
