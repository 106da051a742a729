package printer

import (
	"fmt"
	"strings"
)

// Win32 spooler status bits.
const (
	StatusPaused           uint32 = 0x00000001
	StatusErrored          uint32 = 0x00000002
	StatusPendingDeletion  uint32 = 0x00000004
	StatusPaperJam         uint32 = 0x00000008
	StatusPaperOut         uint32 = 0x00000010
	StatusManualFeed       uint32 = 0x00000020
	StatusPaperProblem     uint32 = 0x00000040
	StatusOffline          uint32 = 0x00000080
	StatusIOActive         uint32 = 0x00000100
	StatusBusy             uint32 = 0x00000200
	StatusPrinting         uint32 = 0x00000400
	StatusOutputBinFull    uint32 = 0x00000800
	StatusNotAvailable     uint32 = 0x00001000
	StatusWaiting          uint32 = 0x00002000
	StatusProcessing       uint32 = 0x00004000
	StatusInitializing     uint32 = 0x00008000
	StatusWarmingUp        uint32 = 0x00010000
	StatusTonerLow         uint32 = 0x00020000
	StatusNoToner          uint32 = 0x00040000
	StatusPagePunt         uint32 = 0x00080000
	StatusUserIntervention uint32 = 0x00100000
	StatusOutOfMemory      uint32 = 0x00200000
	StatusDoorOpen         uint32 = 0x00400000
	StatusServerUnknown    uint32 = 0x00800000
	StatusPowerSave        uint32 = 0x01000000
)

// Descriptions for ready and printing states, matched exactly by the
// dispatcher's poll loop.
const (
	descReady    = "就绪"
	descPrinting = "正在打印"
)

// statusLabels is ordered by ascending bit so decoded descriptions are stable.
var statusLabels = []struct {
	bit   uint32
	label string
}{
	{StatusPaused, "已暂停"},
	{StatusErrored, "发生错误"},
	{StatusPendingDeletion, "将被删除"},
	{StatusPaperJam, "卡纸"},
	{StatusPaperOut, "缺纸"},
	{StatusManualFeed, "手动送纸"},
	{StatusPaperProblem, "纸张异常"},
	{StatusOffline, "脱机"},
	{StatusIOActive, "I/O 活跃"},
	{StatusBusy, "忙碌"},
	{StatusPrinting, descPrinting},
	{StatusOutputBinFull, "出纸槽满"},
	{StatusNotAvailable, "不可用"},
	{StatusWaiting, "等待"},
	{StatusProcessing, "正在处理"},
	{StatusInitializing, "初始化中"},
	{StatusWarmingUp, "预热中"},
	{StatusTonerLow, "碳粉不足"},
	{StatusNoToner, "无碳粉"},
	{StatusPagePunt, "页被跳过"},
	{StatusUserIntervention, "需要用户干预"},
	{StatusOutOfMemory, "内存不足"},
	{StatusDoorOpen, "盖子打开"},
	{StatusServerUnknown, "服务器未知"},
	{StatusPowerSave, "节能模式"},
}

// DecodeStatus renders a spooler status bitmask as a human-readable
// description. Zero means ready; unknown bits fall back to the raw value.
func DecodeStatus(bits uint32) string {
	if bits == 0 {
		return descReady
	}
	var parts []string
	for _, s := range statusLabels {
		if bits&s.bit != 0 {
			parts = append(parts, s.label)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("未知状态(0x%X)", bits)
	}
	return strings.Join(parts, " | ")
}
