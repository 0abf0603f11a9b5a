package model

// Metric names one selectivity measure column.
type Metric string

const (
	MetricROCAUC       Metric = "roc_auc"
	MetricAvePrec      Metric = "ave_prec"
	MetricPRAUC        Metric = "pr_auc"
	MetricMaxInformed  Metric = "max_informed"
	MetricMaxInfoCount Metric = "max_info_count"
	MetricMaxInfoThr   Metric = "max_info_thr"
	MetricMaxInfoSens  Metric = "max_info_sens"
	MetricMaxInfoSpec  Metric = "max_info_spec"
	MetricMaxInfoPrec  Metric = "max_info_prec"
	MetricCCMA         Metric = "ccma"
	MetricZhouPrec     Metric = "zhou_prec"
	MetricZhouSelects  Metric = "zhou_selects"
	MetricZhouThr      Metric = "zhou_thr"
	MetricCorrCoef     Metric = "corr_coef"
	MetricCorrP        Metric = "corr_p"
	MetricMeans        Metric = "means"
	MetricSD           Metric = "sd"
	MetricNZCount      Metric = "nz_count"
	MetricNZProp       Metric = "nz_prop"
	MetricNZPrec       Metric = "nz_prec"
	MetricHiValCount   Metric = "hi_val_count"
	MetricHiValProp    Metric = "hi_val_prop"
	MetricHiValPrec    Metric = "hi_val_prec"
)

// ClassResult holds every metric family's value for one unit and one class.
type ClassResult struct {
	Class int `json:"class"`
	Size  int `json:"size"`

	ROCAUC       float64 `json:"roc_auc"`
	AvePrec      float64 `json:"ave_prec"`
	PRAUC        float64 `json:"pr_auc"`
	MaxInformed  float64 `json:"max_informed"`
	MaxInfoCount int     `json:"max_info_count"`
	MaxInfoThr   float64 `json:"max_info_thr"`
	MaxInfoSens  float64 `json:"max_info_sens"`
	MaxInfoSpec  float64 `json:"max_info_spec"`
	MaxInfoPrec  float64 `json:"max_info_prec"`

	CCMA float64 `json:"ccma"`

	ZhouPrec    float64 `json:"zhou_prec"`
	ZhouSelects int     `json:"zhou_selects"`
	ZhouThr     float64 `json:"zhou_thr"`

	CorrCoef float64 `json:"corr_coef"`
	CorrP    float64 `json:"corr_p"`

	Means      float64 `json:"means"`
	SD         float64 `json:"sd"`
	NZCount    int     `json:"nz_count"`
	NZProp     float64 `json:"nz_prop"`
	NZPrec     float64 `json:"nz_prec"`
	HiValCount int     `json:"hi_val_count"`
	HiValProp  float64 `json:"hi_val_prop"`
	HiValPrec  float64 `json:"hi_val_prec"`
}

// TotalBasics are the descriptive statistics over every item of a unit,
// regardless of class.
type TotalBasics struct {
	Means      float64 `json:"means"`
	SD         float64 `json:"sd"`
	NZCount    int     `json:"nz_count"`
	NZProp     float64 `json:"nz_prop"`
	HiValCount int     `json:"hi_val_count"`
	HiValProp  float64 `json:"hi_val_prop"`
}

// UnitResult is the full per-class detail for one unit.
type UnitResult struct {
	VersionedRecord
	Key        UnitKey            `json:"key"`
	Activation ActivationFunction `json:"act_func"`
	Letters    bool               `json:"letters,omitempty"`
	Items      int                `json:"items"`
	// Metrics lists the measures computed for every class, in descriptor order.
	Metrics []Metric      `json:"metrics"`
	Classes []ClassResult `json:"classes"`
	Total   TotalBasics   `json:"total"`
}

// BestClass is the reduced value of one metric.
type BestClass struct {
	Metric Metric  `json:"metric"`
	Value  float64 `json:"value"`
	Class  int     `json:"class"`
	// Ancillary values are looked up at the parent metric's chosen class.
	Ancillary bool `json:"ancillary,omitempty"`
}

// UnitSummary is the best-class-per-metric reduction of a UnitResult.
type UnitSummary struct {
	VersionedRecord
	Key  UnitKey     `json:"key"`
	Best []BestClass `json:"best"`
}

func (s UnitSummary) Lookup(metric Metric) (BestClass, bool) {
	for _, best := range s.Best {
		if best.Metric == metric {
			return best, true
		}
	}
	return BestClass{}, false
}
