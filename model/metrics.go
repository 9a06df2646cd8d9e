package model

// Scores summarizes binary predictions against ground truth, with class 1
// as the positive class. Undefined ratios are reported as zero.
type Scores struct {
	Support   int
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
}

// Evaluate compares predictions with labels position by position.
func Evaluate(yTrue []float64, yPred []int64) Scores {
	var tp, fp, fn, correct int
	for i, p := range yPred {
		actual := yTrue[i] == 1
		predicted := p == 1
		if actual == predicted {
			correct++
		}
		switch {
		case actual && predicted:
			tp++
		case !actual && predicted:
			fp++
		case actual && !predicted:
			fn++
		}
	}

	s := Scores{Support: len(yPred)}
	if s.Support > 0 {
		s.Accuracy = float64(correct) / float64(s.Support)
	}
	if tp+fp > 0 {
		s.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		s.Recall = float64(tp) / float64(tp+fn)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}
