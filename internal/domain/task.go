package domain

// ScanTask 表示“扫描这一个文件”。
//
// Path 是 walker 生成的独立字符串（不引用遍历器内部状态）；
// 任务按值入队、按值出队，由执行它的 worker 独占。
type ScanTask struct {
	Path string
}
