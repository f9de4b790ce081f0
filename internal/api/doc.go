// Package api 暴露部署作业的 REST 接口：提交与查询作业、查看部署记录，
// 以及 Prometheus 指标。
package api
