package cohort

// Timepoints is the fixed number of visits every patient has.
const Timepoints = 3

var VisitMonths = [Timepoints]string{"2023-01", "2023-07", "2024-01"}

type Sex string

const (
	Male   Sex = "M"
	Female Sex = "F"
)

// Static holds covariates drawn once per patient. Integer-valued scores are
// kept as float64 so they share the numeric column representation.
type Static struct {
	AgeAtIndex        float64
	BMI               float64
	DMDurationYears   float64
	HTNDurationYears  float64
	FrailtyCFS        float64
	FrailtyFried      float64
	ADLScore          float64
	IADLScore         float64
	MMSE              float64
	MoCA              float64
	InsulinFlag       float64
	MedCount          float64
	PrimaryCareVisits float64
	SpecialistVisits  float64
	EDVisits          float64
}

type Events struct {
	Hypo            bool
	SevereHypo      bool
	UncontrolledHTN bool
	MI              bool
	Stroke          bool
	HFHosp          bool
	AKI             bool
	Hospitalization bool
}

type Visit struct {
	Month      string
	SBP        float64
	DBP        float64
	HR         float64
	WeightKg   float64
	HbA1c      float64
	FPG        float64
	RPG        float64
	Creatinine float64
	EGFR       float64
	LDL        float64
	HDL        float64
	Trig       float64
	ACR        float64
	Hemoglobin float64
	Events     Events
}

type Patient struct {
	ID     string
	Sex    Sex
	Static Static
	Visits [Timepoints]Visit
}
