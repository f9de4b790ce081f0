// Package job 将部署任务的执行请求排队处理：Service 负责受理与查询，
// Processor 从队列领取作业、调用 Executor 执行，并按错误码决定是否重试。
package job
