// Package schema holds the index mappings and the stored search template.
// The blobs are consumed opaquely: the pipeline uploads them verbatim and
// never interprets their contents.
package schema

import "strings"

const propertyFields = `
      "additional_urls": {"type": "keyword"},
      "annual-tax": {"type": "integer"},
      "body_content_phrase": {"type": "text"},
      "domains": {"type": "keyword"},
      "full_html": {"type": "text", "index": false},
      "geo_point": {
        "properties": {
          "lat": {"type": "float"},
          "lon": {"type": "float"}
        }
      },
      "location": {"type": "geo_point"},
      "headings": {"type": "text"},
      "home-price": {"type": "integer"},
      "id": {"type": "keyword"},
      "last_crawled_at": {"type": "date"},
      "latitude": {"type": "float"},
      "links": {"type": "keyword"},
      "listing-agent-info": {"type": "text"},
      "longitude": {"type": "float"},
      "maintenance-fee": {"type": "integer"},
      "meta_description": {"type": "text"},
      "meta_keywords": {"type": "keyword"},
      "number-of-bathrooms": {"type": "float"},
      "number-of-bedrooms": {"type": "float"},
      "property-description": {"type": "text"},
      "property-features": {"type": "text"},
      "property-status": {"type": "keyword"},
      "square-footage": {"type": "float"},
      "title": {"type": "text"},
      "url": {"type": "keyword"},
      "url_host": {"type": "keyword"},
      "url_path": {"type": "keyword"},
      "url_path_dir1": {"type": "keyword"},
      "url_path_dir2": {"type": "keyword"},
      "url_path_dir3": {"type": "keyword"},
      "url_port": {"type": "keyword"},
      "url_scheme": {"type": "keyword"}
`

// RawIndexMapping is the mapping for the staging index. body_content copies
// into the phrase subfield only; no inference is attached so bulk loading
// stays cheap.
const RawIndexMapping = `{
  "mappings": {
    "dynamic": "false",
    "properties": {
      "body_content": {
        "type": "text",
        "copy_to": ["body_content_phrase"]
      },` + propertyFields + `
    }
  }
}`

// PropertiesIndexMapping adds the semantic_text field fed by the inference
// endpoint; documents arriving via reindex are enriched server-side. The
// inference id is substituted at upload time.
const propertiesIndexMappingTemplate = `{
  "mappings": {
    "dynamic": "false",
    "properties": {
      "body_content": {
        "type": "text",
        "copy_to": ["body_content_semantic"]
      },
      "body_content_semantic": {
        "type": "semantic_text",
        "inference_id": "%INFERENCE_ID%",
        "model_settings": {
          "task_type": "sparse_embedding"
        }
      },` + propertyFields + `
    }
  }
}`

// PropertiesIndexMapping returns the enriched-index mapping bound to the
// given inference endpoint id.
func PropertiesIndexMapping(inferenceID string) string {
	return strings.ReplaceAll(propertiesIndexMappingTemplate, "%INFERENCE_ID%", inferenceID)
}

// SearchTemplateSource is the mustache body of the stored search template.
// The conditional comma chains keep the filter array valid JSON for every
// combination of optional parameters.
const SearchTemplateSource = `{
    "_source": false,
    "size": 5,
    "fields": ["title", "annual-tax", "maintenance-fee", "number-of-bathrooms", "number-of-bedrooms", "square-footage", "home-price", "property-features"],
    "retriever": {
        "standard": {
            "query": {
                "semantic": {
                    "field": "body_content_semantic",
                    "query": "{{query}}"
                }
            },
            "filter": {
                "bool": {
                    "must": [
                        {{#distance}}{
                            "geo_distance": {
                                "distance": "{{distance}}",
                                "location": {
                                    "lat": {{latitude}},
                                    "lon": {{longitude}}
                                }
                            }
                        }{{/distance}}
                        {{#bedrooms}}{{#distance}},{{/distance}}{
                            "range": {
                                "number-of-bedrooms": {
                                    "gte": {{bedrooms}}
                                }
                            }
                        }{{/bedrooms}}
                        {{#bathrooms}}{{#distance}}{{^bedrooms}},{{/bedrooms}}{{/distance}}{{#bedrooms}},{{/bedrooms}}{
                            "range": {
                                "number-of-bathrooms": {
                                    "gte": {{bathrooms}}
                                }
                            }
                        }{{/bathrooms}}
                        {{#tax}}{{#distance}}{{^bedrooms}}{{^bathrooms}},{{/bathrooms}}{{/bedrooms}}{{/distance}}{{#bedrooms}}{{^bathrooms}},{{/bathrooms}}{{/bedrooms}}{{#bathrooms}},{{/bathrooms}}{
                            "range": {
                                "annual-tax": {
                                    "lte": {{tax}}
                                }
                            }
                        }{{/tax}}
                        {{#maintenance}}{{#distance}}{{^bedrooms}}{{^bathrooms}}{{^tax}},{{/tax}}{{/bathrooms}}{{/bedrooms}}{{/distance}}{{#bedrooms}}{{^bathrooms}}{{^tax}},{{/tax}}{{/bathrooms}}{{/bedrooms}}{{#bathrooms}}{{^tax}},{{/tax}}{{/bathrooms}}{{#tax}},{{/tax}}{
                            "range": {
                                "maintenance-fee": {
                                    "lte": {{maintenance}}
                                }
                            }
                        }{{/maintenance}}
                        {{#square_footage}}{{#distance}}{{^bedrooms}}{{^bathrooms}}{{^tax}}{{^maintenance}},{{/maintenance}}{{/tax}}{{/bathrooms}}{{/bedrooms}}{{/distance}}{{#bedrooms}}{{^bathrooms}}{{^tax}}{{^maintenance}},{{/maintenance}}{{/tax}}{{/bathrooms}}{{/bedrooms}}{{#bathrooms}}{{^tax}}{{^maintenance}},{{/maintenance}}{{/tax}}{{/bathrooms}}{{#tax}}{{^maintenance}},{{/maintenance}}{{/tax}}{{#maintenance}},{{/maintenance}}{
                            "range": {
                                "square-footage": {
                                    "gte": {{square_footage}}
                                }
                            }
                        }{{/square_footage}}
                        {{#home_price}}{{#distance}}{{^bedrooms}}{{^bathrooms}}{{^tax}}{{^maintenance}}{{^square_footage}},{{/square_footage}}{{/maintenance}}{{/tax}}{{/bathrooms}}{{/bedrooms}}{{/distance}}{{#bedrooms}}{{^bathrooms}}{{^tax}}{{^maintenance}}{{^square_footage}},{{/square_footage}}{{/maintenance}}{{/tax}}{{/bathrooms}}{{/bedrooms}}{{#bathrooms}}{{^tax}}{{^maintenance}}{{^square_footage}},{{/square_footage}}{{/maintenance}}{{/tax}}{{/bathrooms}}{{#tax}}{{^maintenance}}{{^square_footage}},{{/square_footage}}{{/maintenance}}{{/tax}}{{#maintenance}}{{^square_footage}},{{/square_footage}}{{/maintenance}}{{#square_footage}},{{/square_footage}}{
                            "range": {
                                "home-price": {
                                    "lte": {{home_price}}
                                }
                            }
                        }{{/home_price}}
                    ] {{#feature}} ,
                        "should": [
                            {
                                "match": {
                                    "property-features": {
                                        "query": "{{feature}}",
                                        "operator": "and"
                                    }
                                }
                            }
                        ],
                        "minimum_should_match": 1
                    {{/feature}}
                }
            }
        }
    }
}`

// ParamDescriptions is surfaced by the template-params tool alongside the
// extracted placeholder names.
const ParamDescriptions = `- query: Main search query (mandatory)
- latitude: Geographic latitude coordinate
- longitude: Geographic longitude coordinate
- distance: Search radius in miles
- bedrooms: Number of bedrooms
- bathrooms: Number of bathrooms
- tax: Real estate tax amount
- maintenance: Maintenance fee amount
- square_footage: Property square footage
- home_price: Max home price. Not a range, just a number
- feature: Home features such as AC, pool, updated kitchen, listed as a single string (e.g. "pool updated kitchen")`
