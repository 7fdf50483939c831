package drift

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// psiSmoothing страхует от log(0) на пустых бинах
const psiSmoothing = 0.001

// populationStabilityIndex считает PSI текущего распределения относительно
// эталонного. Бины — равной ширины по размаху эталона; значения текущей
// выборки вне размаха не учитываются. Вырожденный эталон (все значения
// равны, выборка пуста) — PSI = 0, второй результат false.
func populationStabilityIndex(reference, current []float64, bins int) (float64, bool) {
	if len(reference) == 0 || len(current) == 0 || bins < 2 {
		return 0, false
	}

	lo, hi := reference[0], reference[0]
	for _, v := range reference[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return 0, false
	}

	refCounts := histogram(reference, lo, hi, bins)
	curCounts := histogram(current, lo, hi, bins)

	psi := 0.0
	for i := 0; i < bins; i++ {
		refProp := (float64(refCounts[i]) + psiSmoothing) / (float64(len(reference)) + psiSmoothing*float64(bins))
		curProp := (float64(curCounts[i]) + psiSmoothing) / (float64(len(current)) + psiSmoothing*float64(bins))
		psi += (curProp - refProp) * math.Log(curProp/refProp)
	}
	return psi, true
}

// histogram раскладывает значения по bins равным интервалам [lo, hi].
// Правая граница входит в последний бин, значения вне [lo, hi] отбрасываются.
func histogram(values []float64, lo, hi float64, bins int) []int {
	counts := make([]int, bins)
	width := (hi - lo) / float64(bins)
	for _, v := range values {
		if v < lo || v > hi {
			continue
		}
		idx := int((v - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}
	return counts
}

// kolmogorovSmirnov возвращает статистику двухвыборочного KS-теста и
// асимптотический p-value. На вырожденном входе — нейтральная пара (0, 1).
func kolmogorovSmirnov(reference, current []float64) (statistic, pValue float64, ok bool) {
	if len(reference) == 0 || len(current) == 0 {
		return 0, 1, false
	}

	ref := append([]float64(nil), reference...)
	cur := append([]float64(nil), current...)
	sort.Float64s(ref)
	sort.Float64s(cur)

	d := stat.KolmogorovSmirnov(ref, nil, cur, nil)
	if math.IsNaN(d) {
		return 0, 1, false
	}
	return d, ksPValue(d, len(ref), len(cur)), true
}

// ksPValue — асимптотическое приближение Q_KS для двухвыборочного теста
func ksPValue(d float64, n, m int) float64 {
	en := math.Sqrt(float64(n) * float64(m) / float64(n+m))
	lambda := (en + 0.12 + 0.11/en) * d
	if lambda <= 0 {
		return 1
	}

	sum := 0.0
	sign := 1.0
	for k := 1; k <= 100; k++ {
		term := sign * math.Exp(-2*lambda*lambda*float64(k)*float64(k))
		sum += term
		if math.Abs(term) < 1e-10 {
			break
		}
		sign = -sign
	}
	p := 2 * sum
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
