package nvd

// Feed is a yearly NVD JSON 1.1 feed file.
type Feed struct {
	DataType     string `json:"CVE_data_type"`
	DataFormat   string `json:"CVE_data_format"`
	DataVersion  string `json:"CVE_data_version"`
	NumberOfCVEs string `json:"CVE_data_numberOfCVEs"`
	Timestamp    string `json:"CVE_data_timestamp"`
	Items        []Item `json:"CVE_Items"`
}

// Item is a single vulnerability record of the feed.
type Item struct {
	CVE              Info           `json:"cve"`
	Configurations   Configurations `json:"configurations"`
	Impact           Impact         `json:"impact"`
	PublishedDate    string         `json:"publishedDate,omitempty"`
	LastModifiedDate string         `json:"lastModifiedDate,omitempty"`
}

type Info struct {
	DataType    string      `json:"data_type,omitempty"`
	DataFormat  string      `json:"data_format,omitempty"`
	DataVersion string      `json:"data_version,omitempty"`
	Meta        Meta        `json:"CVE_data_meta"`
	ProblemType ProblemType `json:"problemtype"`
	References  References  `json:"references"`
	Description Description `json:"description"`
}

type Meta struct {
	ID       string `json:"ID"`
	Assigner string `json:"ASSIGNER,omitempty"`
}

type ProblemType struct {
	ProblemTypeData []ProblemTypeData `json:"problemtype_data"`
}

type ProblemTypeData struct {
	Description []LangString `json:"description"`
}

type References struct {
	ReferenceData []Reference `json:"reference_data"`
}

type Reference struct {
	URL       string   `json:"url"`
	Name      string   `json:"name"`
	RefSource string   `json:"refsource,omitempty"`
	Tags      []string `json:"tags"`
}

type Description struct {
	DescriptionData []LangString `json:"description_data"`
}

type LangString struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type Configurations struct {
	DataVersion string `json:"CVE_data_version"`
	Nodes       []Node `json:"nodes"`
}

// Node is a configuration node. Any node may carry both match criteria and
// child nodes.
type Node struct {
	Operator string     `json:"operator"`
	Negate   bool       `json:"negate,omitempty"`
	CPEMatch []CPEMatch `json:"cpe_match"`
	Children []Node     `json:"children"`
}

type CPEMatch struct {
	Vulnerable            bool      `json:"vulnerable"`
	CPE23URI              string    `json:"cpe23Uri"`
	VersionStartIncluding string    `json:"versionStartIncluding,omitempty"`
	VersionStartExcluding string    `json:"versionStartExcluding,omitempty"`
	VersionEndIncluding   string    `json:"versionEndIncluding,omitempty"`
	VersionEndExcluding   string    `json:"versionEndExcluding,omitempty"`
	CPEName               []CPEName `json:"cpe_name"`
}

type CPEName struct {
	CPE23URI         string `json:"cpe23Uri"`
	LastModifiedDate string `json:"lastModifiedDate,omitempty"`
}

// Impact holds the optional CVSS v2 and v3 metrics.
type Impact struct {
	BaseMetricV2 *BaseMetricV2 `json:"baseMetricV2,omitempty"`
	BaseMetricV3 *BaseMetricV3 `json:"baseMetricV3,omitempty"`
}

type BaseMetricV2 struct {
	CVSSV2                  CVSSV2  `json:"cvssV2"`
	Severity                string  `json:"severity"`
	ExploitabilityScore     float64 `json:"exploitabilityScore"`
	ImpactScore             float64 `json:"impactScore"`
	AcInsufInfo             *bool   `json:"acInsufInfo,omitempty"`
	ObtainAllPrivilege      bool    `json:"obtainAllPrivilege"`
	ObtainUserPrivilege     bool    `json:"obtainUserPrivilege"`
	ObtainOtherPrivilege    bool    `json:"obtainOtherPrivilege"`
	UserInteractionRequired *bool   `json:"userInteractionRequired,omitempty"`
}

type CVSSV2 struct {
	Version               string  `json:"version"`
	VectorString          string  `json:"vectorString"`
	AccessVector          string  `json:"accessVector"`
	AccessComplexity      string  `json:"accessComplexity"`
	Authentication        string  `json:"authentication"`
	ConfidentialityImpact string  `json:"confidentialityImpact"`
	IntegrityImpact       string  `json:"integrityImpact"`
	AvailabilityImpact    string  `json:"availabilityImpact"`
	BaseScore             float64 `json:"baseScore"`
}

type BaseMetricV3 struct {
	CVSSV3              CVSSV3  `json:"cvssV3"`
	ExploitabilityScore float64 `json:"exploitabilityScore"`
	ImpactScore         float64 `json:"impactScore"`
}

type CVSSV3 struct {
	Version               string  `json:"version"`
	VectorString          string  `json:"vectorString"`
	AttackVector          string  `json:"attackVector"`
	AttackComplexity      string  `json:"attackComplexity"`
	PrivilegesRequired    string  `json:"privilegesRequired"`
	UserInteraction       string  `json:"userInteraction"`
	Scope                 string  `json:"scope"`
	ConfidentialityImpact string  `json:"confidentialityImpact"`
	IntegrityImpact       string  `json:"integrityImpact"`
	AvailabilityImpact    string  `json:"availabilityImpact"`
	BaseScore             float64 `json:"baseScore"`
	BaseSeverity          string  `json:"baseSeverity"`
}
