package transition

import "math"

// CurveFunc 把过渡进度 [0,1] 映射为淡化系数 [0,1]
type CurveFunc func(t float64) float64

// Linear 线性曲线 t
func Linear(t float64) float64 { return t }

// Exponential 指数曲线 t²，起步慢收尾快
func Exponential(t float64) float64 { return t * t }

// Logarithmic 对数曲线 √t，起步快收尾慢
func Logarithmic(t float64) float64 { return math.Sqrt(t) }

// SCurve S型曲线 3t²−2t³，两端平滑
func SCurve(t float64) float64 { return 3*t*t - 2*t*t*t }

// CurveByName 按配置名称取曲线，未知名称回退线性
func CurveByName(name string) CurveFunc {
	switch name {
	case "exponential":
		return Exponential
	case "logarithmic":
		return Logarithmic
	case "s-curve":
		return SCurve
	default:
		return Linear
	}
}
