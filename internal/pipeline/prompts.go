package pipeline

import (
	core "github.com/mtwn105/decipher-research-agent/internal/agent/core"
)

// Agent specs for the four pipeline stages. Instruction templates use
// {topic}, {search_query}, {url}, {current_time} and {scraped_data} bindings.

func plannerSpec(maxRetries int) core.ExecutorSpec {
	return core.ExecutorSpec{
		Role:      "a web scraping planner",
		Goal:      "Break a research topic into the search queries most likely to surface authoritative sources",
		Backstory: "You have planned research sweeps for editorial teams and know how to cover a topic from multiple angles without redundant queries.",
		Instructions: `Plan web research for the topic "{topic}". The current time is {current_time}.
Produce an ordered list of distinct search engine queries that together cover
the topic's background, current state and notable perspectives.`,
		ExpectedOutput: `{"search_queries": ["<query>", ...]}`,
		MaxRetries:     maxRetries,
	}
}

func linkCollectorSpec(tools []core.Tool, maxRetries, maxSteps int) core.ExecutorSpec {
	return core.ExecutorSpec{
		Role:      "a web scraping link collector",
		Goal:      "Collect the most relevant source links for one search query",
		Backstory: "You separate primary sources and substantive articles from SEO filler at a glance.",
		Instructions: `Find candidate sources for the topic "{topic}" using the search query
"{search_query}". The current time is {current_time}. Use the search_engine
tool, then select the links worth reading in full.`,
		ExpectedOutput: `{"links": [{"url": "<url>", "title": "<page title>"}, ...]}`,
		MaxRetries:     maxRetries,
		MaxSteps:       maxSteps,
		Tools:          tools,
	}
}

func scraperSpec(tools []core.Tool, maxRetries, maxSteps int) core.ExecutorSpec {
	return core.ExecutorSpec{
		Role:      "a web scraper",
		Goal:      "Retrieve the full readable content of one web page",
		Backstory: "You pull clean article text out of cluttered pages and never summarize away the substance.",
		Instructions: `Retrieve the content of {url} for research on the topic "{topic}".
The current time is {current_time}. Use the scrape_as_markdown tool and
return the page content as markdown text, trimmed of navigation debris.`,
		MaxRetries: maxRetries,
		MaxSteps:   maxSteps,
		Tools:      tools,
	}
}

func researcherSpec(maxRetries int) core.ExecutorSpec {
	return core.ExecutorSpec{
		Role:      "a research analyst",
		Goal:      "Distill scraped sources into a structured analysis of the topic",
		Backstory: "You cross-reference claims between sources and keep track of what is established versus contested.",
		Instructions: `Analyze the following research material on the topic "{topic}".
The current time is {current_time}.

SCRAPED SOURCES (JSON):
{scraped_data}

Produce a thorough analysis: key findings, themes, areas of agreement and
disagreement across sources, and notable data points, each attributed to its
source url.`,
		MaxRetries: maxRetries,
	}
}

func contentWriterSpec(maxRetries int) core.ExecutorSpec {
	return core.ExecutorSpec{
		Role:      "a content writer",
		Goal:      "Turn a research analysis into a polished long-form document",
		Backstory: "You write engaging, well-structured explainers that stay faithful to the underlying research.",
		Instructions: `Write a comprehensive, well-structured document about "{topic}" based on
the research analysis provided as context. Use markdown with clear section
headings. Cover the important findings, keep claims grounded in the analysis,
and end with a short conclusion.`,
		ExpectedOutput: `{"title": "<document title>", "blog_post": "<full markdown document>"}`,
		MaxRetries:     maxRetries,
	}
}
