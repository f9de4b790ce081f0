// Package contract 提供通用的合约部署能力：加载编译产物、解析发送账户、
// 规范化构造参数并在目标网络上完成部署。
package contract
