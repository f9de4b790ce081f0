// Package artifact 负责加载编译产物（ABI 与字节码），并完成库地址链接。
package artifact
