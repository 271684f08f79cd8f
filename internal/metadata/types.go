package metadata

import "time"

// DigitalObject is the Dublin Core record of one archived file (wf_do).
type DigitalObject struct {
	ID           string    `bson:"_id,omitempty" json:"id"`
	Enabled      bool      `bson:"enabled" json:"enabled"`
	FileID       string    `bson:"fileId" json:"fileId"`
	Identifier   string    `bson:"dc_identifier" json:"dc_identifier"`
	Title        string    `bson:"dc_title" json:"dc_title"`
	Subject      string    `bson:"dc_subject" json:"dc_subject"`
	Creator      string    `bson:"dc_creator" json:"dc_creator"`
	Contributor  string    `bson:"dc_contributor" json:"dc_contributor"`
	Publisher    string    `bson:"dc_publisher" json:"dc_publisher"`
	Type         string    `bson:"dc_type" json:"dc_type"`
	Format       string    `bson:"dc_format" json:"dc_format"`
	Date         time.Time `bson:"dc_date" json:"dc_date"`
	CoverageX    float64   `bson:"dc_coverage_x" json:"dc_coverage_x"`
	CoverageY    float64   `bson:"dc_coverage_y" json:"dc_coverage_y"`
	CoverageZ    float64   `bson:"dc_coverage_z" json:"dc_coverage_z"`
	CoverageTMin time.Time `bson:"dc_coverage_t_min" json:"dc_coverage_t_min"`
	CoverageTMax time.Time `bson:"dc_coverage_t_max" json:"dc_coverage_t_max"`
	Rights       string    `bson:"dc_rights" json:"dc_rights"`
	Available    time.Time `bson:"dcterms_available" json:"dcterms_available"`
	DateAccepted time.Time `bson:"dcterms_dateAccepted" json:"dcterms_dateAccepted"`
	IsPartOf     string    `bson:"dcterms_isPartOf" json:"dcterms_isPartOf"`
}

// Provenance is the provenance record of one identifier (do_prov).
type Provenance struct {
	ID           string    `bson:"_id,omitempty" json:"id"`
	Enabled      bool      `bson:"enabled" json:"enabled"`
	Identifier   string    `bson:"dc_identifier" json:"dc_identifier"`
	FileID       string    `bson:"fileId" json:"fileId"`
	IsPartOf     string    `bson:"dcterms_isPartOf" json:"dcterms_isPartOf"`
	GeneratedAt  time.Time `bson:"prov_generatedAtTime" json:"prov_generatedAtTime"`
	AttributedTo string    `bson:"prov_wasAttributedTo" json:"prov_wasAttributedTo"`
	Usage        Usage     `bson:"prov_usage" json:"prov_usage"`
}

// Usage names the software that used the object.
type Usage struct {
	SoftwareApplication string `bson:"schema_SoftwareApplication" json:"schema_SoftwareApplication"`
}

// Version is one link of an identifier's version chain (do_vers).
type Version struct {
	ID            string     `bson:"_id,omitempty" json:"id"`
	Enabled       bool       `bson:"enabled" json:"enabled"`
	Identifier    string     `bson:"dc_identifier" json:"dc_identifier"`
	Number        string     `bson:"dc_hasVersion" json:"dc_hasVersion"`
	StartDate     time.Time  `bson:"schema_startDate" json:"schema_startDate"`
	Organization  string     `bson:"schema_Organization" json:"schema_Organization"`
	SoftwareAgent string     `bson:"prov_SoftwareAgent" json:"prov_SoftwareAgent"`
	Spatial       Spatial    `bson:"dc_terms_spatial" json:"dc_terms_spatial"`
	File          FileRef    `bson:"schema_file" json:"schema_file"`
	GeneratedBy   Generation `bson:"prov_wasGeneratedBy" json:"prov_wasGeneratedBy"`
}

// Spatial is the station position attached to a version.
type Spatial struct {
	X float64 `bson:"x" json:"x"`
	Y float64 `bson:"y" json:"y"`
	Z float64 `bson:"z" json:"z"`
}

// FileRef names the file of a version and where it resolves.
type FileRef struct {
	Name     string `bson:"name" json:"name"`
	Position string `bson:"position" json:"position"`
}

// Generation describes how the data of a version was produced.
type Generation struct {
	PrimarySource string `bson:"prov_hadPrimarySource" json:"prov_hadPrimarySource"`
	Software      string `bson:"schema_SoftwareApplication" json:"schema_SoftwareApplication"`
	Organization  string `bson:"schema_Organization" json:"schema_Organization"`
	Periodicity   string `bson:"dcterms_accrualPeriodicity" json:"dcterms_accrualPeriodicity"`
}

// Network is an authoritative network (net_info).
type Network struct {
	Code        string `bson:"net" json:"net"`
	Description string `bson:"description" json:"description"`
}

// DailyStream holds the catalog statistics of one trace (daily_streams).
type DailyStream struct {
	ID           string    `bson:"_id,omitempty" json:"id"`
	FileID       string    `bson:"fileId" json:"fileId"`
	Network      string    `bson:"net" json:"net"`
	Station      string    `bson:"sta" json:"sta"`
	Location     string    `bson:"loc" json:"loc"`
	Channel      string    `bson:"cha" json:"cha"`
	Quality      string    `bson:"quality" json:"quality"`
	StartTime    time.Time `bson:"start_time" json:"start_time"`
	EndTime      time.Time `bson:"end_time" json:"end_time"`
	SampleRate   float64   `bson:"sample_rate" json:"sample_rate"`
	NumSamples   int       `bson:"num_samples" json:"num_samples"`
	NumRecords   int       `bson:"num_records" json:"num_records"`
	NumGaps      int       `bson:"num_gaps" json:"num_gaps"`
	NumOverlaps  int       `bson:"num_overlaps" json:"num_overlaps"`
	Availability float64   `bson:"availability" json:"availability"`
	Created      time.Time `bson:"created" json:"created"`
}
